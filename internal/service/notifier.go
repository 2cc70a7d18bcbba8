package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"skilllink/internal/domain"
)

// Notifier delivers account messages to users.
type Notifier interface {
	SendPasswordReset(ctx context.Context, user *domain.User, link string) error
}

// LogNotifier writes notifications to the log instead of sending mail.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, user *domain.User, link string) error {
	n.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"email":   user.Email,
	}).Infof("password reset requested: %s", link)
	return nil
}
