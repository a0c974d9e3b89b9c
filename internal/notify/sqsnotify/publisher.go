package sqsnotify

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"mailbridge/internal/notify"
)

type SendMessageAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher forwards operator notifications to an SQS queue so other tools
// (paging, chat bridges) can pick them up.
type Publisher struct {
	SQS      SendMessageAPI
	QueueURL string
	// FIFO queues need a group and dedup id; standard queues reject them.
	FIFO bool
}

func (p *Publisher) Notify(ctx context.Context, n notify.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"level": {DataType: aws.String("String"), StringValue: aws.String(string(n.Level))},
			"op":    {DataType: aws.String("String"), StringValue: aws.String(n.Op)},
		},
	}
	if p.FIFO {
		group := "console"
		if n.CampaignID != "" {
			group = "campaign:" + n.CampaignID.String()
		}
		in.MessageGroupId = aws.String(group)
		in.MessageDeduplicationId = aws.String(n.ID)
	}
	_, err = p.SQS.SendMessage(ctx, in)
	return err
}
