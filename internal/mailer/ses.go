package mailer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

// SESAPI is the part of *sesv2.Client used for sending and quota lookups.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, in *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// NewSESClient builds a client from the service's own static credentials.
func NewSESClient(ctx context.Context, s SESSettings) (SESAPI, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(s.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s.Key, s.Secret, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("ses: load aws config: %w", err)
	}
	return sesv2.NewFromConfig(cfg), nil
}

// SESAdapter tracking is configured on the configuration set, so
// Envelope.Tracking is not sent per message.
type SESAdapter struct {
	Client               SESAPI
	ConfigurationSetName string
}

func (a *SESAdapter) Send(ctx context.Context, env Envelope) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(env.From()),
		Destination:      &types.Destination{ToAddresses: []string{env.ToEmail}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(env.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(env.Content), Charset: aws.String("UTF-8")},
				},
			},
		},
		ConfigurationSetName: aws.String(a.ConfigurationSetName),
		EmailTags:            sesTags(env.Tags),
	}

	out, err := a.Client.SendEmail(ctx, input)
	if err != nil {
		return "", classifySESError(err)
	}
	if out.MessageId == nil || *out.MessageId == "" {
		return "", appErrors.NewMessageIDResolution("ses")
	}
	return *out.MessageId, nil
}

func sesTags(tags map[string]string) []types.MessageTag {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]types.MessageTag, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.MessageTag{Name: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

func classifySESError(err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		if status := re.HTTPStatusCode(); status > 0 {
			return &appErrors.ProviderError{
				Provider:   "ses",
				StatusCode: status,
				Kind:       appErrors.KindForStatus(status),
				Err:        err,
			}
		}
	}
	return appErrors.NewProviderTransportError("ses", err)
}
