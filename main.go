package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/storage/redis/v3"
	"github.com/kinshiphq/kinship/internal/audit"
	"github.com/kinshiphq/kinship/internal/auth"
	"github.com/kinshiphq/kinship/internal/circles"
	"github.com/kinshiphq/kinship/internal/config"
	"github.com/kinshiphq/kinship/internal/handlers/api"
	"github.com/kinshiphq/kinship/internal/keeps"
	"github.com/kinshiphq/kinship/internal/magiclink"
	"github.com/kinshiphq/kinship/internal/mail"
	"github.com/kinshiphq/kinship/internal/media"
	"github.com/kinshiphq/kinship/internal/middlewares"
	"github.com/kinshiphq/kinship/internal/notify"
	"github.com/kinshiphq/kinship/internal/oauth"
	"github.com/kinshiphq/kinship/internal/sms"
	"github.com/kinshiphq/kinship/internal/store"
	"github.com/kinshiphq/kinship/internal/twofactor"
	"github.com/kinshiphq/kinship/internal/users"
	"github.com/kinshiphq/kinship/model"
	"github.com/kinshiphq/kinship/params"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

var (
	app       *cli.App
	gitCommit string
	gitDate   string
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "YAML config file",
		Value: "config.yaml",
	}
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}
)

func init() {
	app = cli.NewApp()
	app.EnableBashCompletion = true
	app.Usage = "kinship - family memory sharing backend"
	app.Flags = []cli.Flag{
		configFileFlag,
		debugFlag,
	}
	app.Commands = []*cli.Command{
		{
			Name: "version",
			Action: func(ctx *cli.Context) error {
				fmt.Println(params.VersionWithCommit(gitCommit, gitDate))
				return nil
			},
		},
	}
	app.Action = run
}

func mustInitLogger(debug bool) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

func mustInitDatabase(dbConfig config.MySQLConfig) *gorm.DB {
	db, err := gorm.Open(mysql.Open(dbConfig.Dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   dbConfig.TablePrefix,
			SingularTable: false,
		},
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	sqlDB, err := db.DB()
	if err == nil {
		if dbConfig.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConns)
		}
		if dbConfig.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(dbConfig.MaxOpenConns)
		}
		if dbConfig.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Second)
		}
	}

	if err := db.AutoMigrate(model.Models...); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}
	return db
}

func mustInitMailSender(mailCfg config.MailConfig) mail.MailSender {
	if mailCfg.Backend != "smtp" {
		slog.Error("Unsupported mail sender backend", "backend", mailCfg.Backend)
		os.Exit(1)
	}
	from := mailCfg.From
	if from == "" {
		from = mailCfg.SMTP.From
	}
	sender, err := mail.NewSMTPMailSender(mail.SMTPConfig{
		Host:     mailCfg.SMTP.Host,
		Port:     mailCfg.SMTP.Port,
		Username: mailCfg.SMTP.Username,
		Password: mailCfg.SMTP.Password,
		TLS:      mailCfg.SMTP.TLS,
		CertFile: mailCfg.SMTP.CertFile,
		KeyFile:  mailCfg.SMTP.KeyFile,
		CAFile:   mailCfg.SMTP.CAFile,
	}, from)
	if err != nil {
		slog.Error("Failed to initialize mail sender", "error", err)
		os.Exit(1)
	}
	return sender
}

func initSMSSender(smsCfg config.SMSConfig) sms.Sender {
	if smsCfg.Backend == "gateway" {
		return sms.NewGatewaySender(smsCfg.GatewayURL, smsCfg.APIKey, smsCfg.Sender)
	}
	return sms.NullSender{}
}

func mustInitRedisStorage(redisCfg config.RedisConfig) *redis.Storage {
	return redis.New(redis.Config{
		URL:           redisCfg.URL,
		PoolSize:      redisCfg.PoolSize,
		IsClusterMode: redisCfg.ClusterMode,
	})
}

func buildTwoFactorConfig(cfg *config.Config) twofactor.Config {
	tf := cfg.TwoFactor
	return twofactor.Config{
		MasterKey:           cfg.MasterKey,
		CodeExpiry:          time.Duration(tf.CodeExpiryMinutes) * time.Minute,
		CodeMaxAttempts:     tf.CodeMaxAttempts,
		RateLimitWindow:     tf.RateLimitWindow,
		RateLimitMax:        tf.RateLimitMax,
		TrustedDeviceMax:    tf.TrustedDeviceMax,
		TrustedDeviceTTL:    time.Duration(tf.TrustedDeviceDays) * 24 * time.Hour,
		PartialTokenTTL:     tf.PartialTokenTTL,
		LockoutThreshold:    tf.LockoutThreshold,
		LockoutBaseDuration: tf.LockoutBaseDuration,
		LockoutMaxDuration:  tf.LockoutMaxDuration,
	}
}

func startCleanupJobs(twoFactorSvc *twofactor.Service, circleSvc *circles.CircleService) *cron.Cron {
	scheduler := cron.New()
	scheduler.Schedule(cron.Every(time.Hour), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := twoFactorSvc.Devices().CleanupExpired(ctx); err != nil {
			slog.Error("Trusted device cleanup failed", "error", err)
		} else if n > 0 {
			slog.Info("Removed expired trusted devices", "count", n)
		}
		if n, err := twoFactorSvc.CleanupExpiredCodes(ctx); err != nil {
			slog.Error("Expired code cleanup failed", "error", err)
		} else if n > 0 {
			slog.Info("Removed expired verification codes", "count", n)
		}
		if n, err := circleSvc.CleanupExpiredInvites(ctx); err != nil {
			slog.Error("Expired invite cleanup failed", "error", err)
		} else if n > 0 {
			slog.Info("Removed expired circle invites", "count", n)
		}
	}))
	scheduler.Start()
	return scheduler
}

func setupAPIRoutes(
	router fiber.Router,
	tokenIssuer *auth.TokenIssuer,
	authHandler *api.AuthHandler,
	oauthHandler *api.OAuthHandler,
	twoFactorHandler *api.TwoFactorHandler,
	circleHandler *api.CircleHandler,
	keepHandler *api.KeepHandler,
) {
	root := router.Group("/api")

	root.Post("/auth/register", authHandler.PostRegister)
	root.Post("/auth/login", authHandler.PostLogin)
	root.Post("/auth/login/verify", authHandler.PostLoginVerify)
	root.Post("/auth/login/resend", authHandler.PostLoginResend)
	root.Post("/auth/refresh", authHandler.PostRefresh)
	root.Post("/auth/logout", authHandler.PostLogout)
	root.Post("/auth/magic-link", authHandler.PostMagicLink)
	root.Post("/auth/magic-link/verify", authHandler.PostMagicLinkVerify)
	if oauthHandler != nil {
		root.Get("/oauth/google", oauthHandler.GetGoogleLogin)
		root.Get("/oauth/google/callback", oauthHandler.GetGoogleCallback)
	}

	authed := root.Group("", middlewares.RequireAuth(tokenIssuer))
	authed.Get("/auth/me", authHandler.GetMe)

	twofa := authed.Group("/2fa")
	twofa.Post("/setup", twoFactorHandler.PostSetup)
	twofa.Post("/verify-setup", twoFactorHandler.PostVerifySetup)
	twofa.Get("/status", twoFactorHandler.GetStatus)
	twofa.Post("/preferred-method", twoFactorHandler.PostPreferredMethod)
	twofa.Post("/disable/send-code", twoFactorHandler.PostDisableSendCode)
	twofa.Post("/disable", twoFactorHandler.PostDisable)
	twofa.Post("/remove-method", twoFactorHandler.PostRemoveMethod)
	twofa.Post("/recovery-codes", twoFactorHandler.PostRecoveryCodes)
	twofa.Post("/recovery-codes/download", twoFactorHandler.PostRecoveryCodesDownload)
	twofa.Get("/devices", twoFactorHandler.GetDevices)
	twofa.Post("/devices", twoFactorHandler.PostDevice)
	twofa.Delete("/devices/:deviceID", twoFactorHandler.DeleteDevice)

	authed.Post("/circles", circleHandler.PostCircle)
	authed.Get("/circles", circleHandler.GetCircles)
	authed.Get("/circles/:circleID/members", circleHandler.GetMembers)
	authed.Post("/circles/:circleID/invites", circleHandler.PostInvite)
	authed.Post("/invites/accept", circleHandler.PostAcceptInvite)
	authed.Delete("/circles/:circleID/members/:userID", circleHandler.DeleteMember)
	authed.Post("/circles/:circleID/members/:userID/upgrade", circleHandler.PostUpgradeMember)

	authed.Post("/circles/:circleID/keeps", keepHandler.PostKeep)
	authed.Get("/circles/:circleID/keeps", keepHandler.GetKeeps)
	authed.Get("/keeps/:keepID", keepHandler.GetKeep)
	authed.Patch("/keeps/:keepID", keepHandler.PatchKeep)
	authed.Delete("/keeps/:keepID", keepHandler.DeleteKeep)
	authed.Post("/keeps/:keepID/uploads", keepHandler.PostUpload)
	authed.Post("/assets/:assetID/complete", keepHandler.PostUploadComplete)
	authed.Get("/assets/:assetID/url", keepHandler.GetAssetURL)
	authed.Delete("/assets/:assetID", keepHandler.DeleteAsset)
}

func run(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx.String(configFileFlag.Name))
	if err != nil {
		slog.Error("Could not load config file.", "error", err)
		return err
	}

	mustInitLogger(cfg.Debug || ctx.IsSet(debugFlag.Name))

	mailSender := mustInitMailSender(cfg.Mail)
	smsSender := initSMSSender(cfg.SMS)
	db := mustInitDatabase(cfg.MySQL)
	redisStorage := mustInitRedisStorage(cfg.Redis)
	cacheStorage := store.NewRedisStorage(redisStorage.Conn())

	dispatcher := notify.NewDispatcher(0)
	defer dispatcher.Close()

	codeExpiryMinutes := cfg.TwoFactor.CodeExpiryMinutes
	if codeExpiryMinutes <= 0 {
		codeExpiryMinutes = int(twofactor.DefaultCodeExpiry.Minutes())
	}
	notifier := notify.NewNotifier(dispatcher, mailSender, smsSender, codeExpiryMinutes)
	auditor := audit.NewRecorder(audit.NewAuditEventRepository(db))

	// services
	var (
		userService  = users.NewUserService(users.NewUserRepository(db), users.NewUserOAuthRepository(db))
		twoFactorSvc = twofactor.NewService(buildTwoFactorConfig(cfg), db, cacheStorage, auditor, notifier)
		tokenIssuer  = auth.NewTokenIssuer(cfg.MasterKey, cacheStorage)
		magicLinkSvc = magiclink.NewService(cfg.MasterKey, cfg.BaseURL, cacheStorage, userService, mailSender)
		circleSvc    = circles.NewCircleService(cfg.BaseURL, circles.NewCircleRepository(db), userService, mailSender)
		keepSvc      = keeps.NewKeepService(keeps.NewKeepRepository(db), circleSvc)
	)

	blobs, err := media.NewBlobStore(ctx.Context, media.Options{
		Bucket:          cfg.Media.Bucket,
		Region:          cfg.Media.Region,
		Endpoint:        cfg.Media.Endpoint,
		AccessKeyID:     cfg.Media.AccessKeyID,
		SecretAccessKey: cfg.Media.SecretAccessKey,
	})
	if err != nil {
		slog.Error("Failed to initialize blob store", "error", err)
		return err
	}
	assetRepo := media.NewAssetRepository(db)
	thumbWorker := media.NewThumbnailWorker(blobs, assetRepo, 0)
	defer thumbWorker.Close()
	mediaSvc := media.NewMediaService(blobs, assetRepo, keepSvc, thumbWorker, cfg.Media.UploadExpiry, cfg.Media.DownloadExpiry)

	// handlers
	authHandler := api.NewAuthHandler(userService, twoFactorSvc, tokenIssuer, magicLinkSvc)
	var oauthHandler *api.OAuthHandler
	if providerCfg, ok := cfg.OAuth["google"]; ok {
		callbackURL, _ := url.JoinPath(cfg.BaseURL, "api", "oauth", "google", "callback")
		google := oauth.NewGoogleProvider(providerCfg.ClientID, providerCfg.ClientSecret, callbackURL, providerCfg.Scope, cacheStorage, userService)
		oauthHandler = api.NewOAuthHandler(google, authHandler)
	}
	twoFactorHandler := api.NewTwoFactorHandler(userService, twoFactorSvc)
	circleHandler := api.NewCircleHandler(circleSvc)
	keepHandler := api.NewKeepHandler(keepSvc, mediaSvc)

	router := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		BodyLimit:     params.ServerBodyLimit,
		IdleTimeout:   params.ServerIdleTimeout,
		ReadTimeout:   params.ServerReadTimeout,
		WriteTimeout:  params.ServerWriteTimeout,
		ErrorHandler:  middlewares.ErrorHandler,
	})

	router.Use(recover.New())
	router.Use(logger.New())
	router.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	setupAPIRoutes(router, tokenIssuer, authHandler, oauthHandler, twoFactorHandler, circleHandler, keepHandler)

	scheduler := startCleanupJobs(twoFactorSvc, circleSvc)
	defer scheduler.Stop()

	go startHealthCheckServer(params.HealthCheckServerAddr, redisStorage.Conn(), db, blobs)
	return router.Listen(cfg.ListenAddr)
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
