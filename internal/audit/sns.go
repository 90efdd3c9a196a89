package audit

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var _ Sink = (*SNSSink)(nil)

// SNSPublisher is the subset of the SNS client used by SNSSink.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSink publishes each event as a JSON message with an "action"
// attribute for subscription filtering.
type SNSSink struct {
	client   SNSPublisher
	topicARN string
	log      logrus.FieldLogger
}

func NewSNSSink(client SNSPublisher, topicARN string, log logrus.FieldLogger) (*SNSSink, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if topicARN == "" {
		return nil, errors.New("sns topic ARN is required")
	}
	return &SNSSink{client: client, topicARN: topicARN, log: log.WithField("component", "audit-sns")}, nil
}

// NewSNSSinkFromEnv builds the SNS client from the default AWS credential
// chain (environment, shared config, instance role).
func NewSNSSinkFromEnv(ctx context.Context, topicARN string, log logrus.FieldLogger) (*SNSSink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return NewSNSSink(sns.NewFromConfig(cfg), topicARN, log)
}

func (s *SNSSink) RecordEvent(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "encode audit event")
	}
	out, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"action": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(evt.Action)),
			},
		},
	})
	if err != nil {
		return errors.Wrapf(err, "publish audit event %s", evt.ID)
	}
	s.log.WithFields(logrus.Fields{
		"order_id":   evt.OrderID,
		"message_id": aws.ToString(out.MessageId),
	}).Debug("audit event published")
	return nil
}
