package mail

import "fmt"

func SendOTP(sender MailSender, toEmail string, otpCode string, expireMinutes int) error {
	body := fmt.Sprintf(
		"Your kinship verification code is %s.\n\n"+
			"It expires in %d minutes. If you did not request this code, you can ignore this email.\n",
		otpCode, expireMinutes)
	return sender.Send(&Message{
		To:      []string{toEmail},
		Subject: fmt.Sprintf("%s is your verification code", otpCode),
		Body:    body,
	})
}

func SendDeviceAdded(sender MailSender, toEmail string, deviceName string) error {
	body := fmt.Sprintf(
		"A new device %q was added to your trusted devices and will skip two-factor prompts.\n\n"+
			"If this wasn't you, remove the device from your security settings and regenerate your recovery codes.\n",
		deviceName)
	return sender.Send(&Message{
		To:      []string{toEmail},
		Subject: "New trusted device added to your account",
		Body:    body,
	})
}

func SendRecoveryCodeUsed(sender MailSender, toEmail string) error {
	body := "One of your two-factor recovery codes was just used to sign in.\n\n" +
		"If this wasn't you, change your password immediately and regenerate your recovery codes.\n"
	return sender.Send(&Message{
		To:      []string{toEmail},
		Subject: "A recovery code was used on your account",
		Body:    body,
	})
}

func SendTwoFactorEnabled(sender MailSender, toEmail string) error {
	body := "Two-factor authentication is now enabled on your account.\n\n" +
		"Keep your recovery codes somewhere safe; they are the only way back in if you lose your second factor.\n"
	return sender.Send(&Message{
		To:      []string{toEmail},
		Subject: "Two-factor authentication enabled",
		Body:    body,
	})
}

func SendTwoFactorDisabled(sender MailSender, toEmail string) error {
	body := "Two-factor authentication was disabled on your account.\n\n" +
		"If this wasn't you, re-enable it and change your password immediately.\n"
	return sender.Send(&Message{
		To:      []string{toEmail},
		Subject: "Two-factor authentication disabled",
		Body:    body,
	})
}

func SendCircleInvite(sender MailSender, toEmail string, circleName string, inviteURL string) error {
	body := fmt.Sprintf(
		"You've been invited to join the circle %q on kinship.\n\n"+
			"Accept the invitation here: %s\n\nThe invitation expires in 7 days.\n",
		circleName, inviteURL)
	return sender.Send(&Message{
		To:      []string{toEmail},
		Subject: fmt.Sprintf("Join %s on kinship", circleName),
		Body:    body,
	})
}

func SendMagicLink(sender MailSender, toEmail string, loginURL string, expireMinutes int) error {
	body := fmt.Sprintf(
		"Use this link to sign in to kinship: %s\n\n"+
			"The link expires in %d minutes and can only be used once.\n",
		loginURL, expireMinutes)
	return sender.Send(&Message{
		To:      []string{toEmail},
		Subject: "Your kinship sign-in link",
		Body:    body,
	})
}
