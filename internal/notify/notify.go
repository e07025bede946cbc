package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/blagoySimandov/arqrender/internal/config"
	"github.com/rs/zerolog/log"
)

// QuotaAlert tells a user that most of the monthly allotment is spent.
type QuotaAlert struct {
	UserID       string
	Email        string
	Name         string
	Plan         string
	MonthlyUsed  int
	MonthlyQuota int
	ExtraRenders int
}

func (a QuotaAlert) PercentUsed() int {
	if a.MonthlyQuota <= 0 {
		return 0
	}
	return a.MonthlyUsed * 100 / a.MonthlyQuota
}

type Notifier interface {
	QuotaAlert(ctx context.Context, alert QuotaAlert) error
}

// LogNotifier records alerts in the log only. Used when email is not
// configured.
type LogNotifier struct{}

func (LogNotifier) QuotaAlert(ctx context.Context, a QuotaAlert) error {
	log.Info().
		Str("user_id", a.UserID).
		Str("plan", a.Plan).
		Int("monthly_used", a.MonthlyUsed).
		Int("monthly_quota", a.MonthlyQuota).
		Msg("quota alert (email disabled)")
	return nil
}

// emailSender is the part of the SES client used here.
type emailSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESNotifier struct {
	client     emailSender
	sender     string
	upgradeURL string
}

func NewSESNotifier(ctx context.Context, cfg *config.Config) (*SESNotifier, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.SESRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.SESAccessKeyID, cfg.SESSecretAccessKey, "")),
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load SES config: %w", err)
	}

	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if cfg.SESEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.SESEndpoint)
		}
	})
	return newSESNotifier(client, cfg.EmailFrom, cfg.FE_BASE_URL+"/pricing"), nil
}

func newSESNotifier(client emailSender, sender, upgradeURL string) *SESNotifier {
	return &SESNotifier{client: client, sender: sender, upgradeURL: upgradeURL}
}

func (n *SESNotifier) QuotaAlert(ctx context.Context, a QuotaAlert) error {
	subject, body := renderQuotaAlert(a, n.upgradeURL)
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.sender),
		Destination: &types.Destination{
			ToAddresses: []string{a.Email},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body)},
				},
			},
		},
	}
	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send quota alert to %s: %w", a.UserID, err)
	}
	return nil
}

func renderQuotaAlert(a QuotaAlert, upgradeURL string) (string, string) {
	name := a.Name
	if name == "" {
		name = "there"
	}
	remaining := a.MonthlyQuota - a.MonthlyUsed
	if remaining < 0 {
		remaining = 0
	}
	subject := fmt.Sprintf("You have used %d%% of your monthly renders", a.PercentUsed())
	body := fmt.Sprintf(
		"Hi %s,\n\nYou have used %d of the %d renders included in your %s plan this month. "+
			"%d monthly renders and %d extra renders remain.\n\n"+
			"Buy an extra pack or upgrade your plan to keep rendering: %s\n",
		name, a.MonthlyUsed, a.MonthlyQuota, a.Plan, remaining, a.ExtraRenders, upgradeURL,
	)
	return subject, body
}
