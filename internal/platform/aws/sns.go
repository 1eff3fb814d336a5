package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/observability"
	"github.com/DroomDroom-Org/DroomdroomConverter/internal/platform/resilience"
)

// snsAPI is the subset of the SNS client used here
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSClient wraps the AWS SNS client with retry and a circuit breaker
type SNSClient struct {
	client         snsAPI
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    resilience.RetryConfig
	logger         *observability.Logger
	metrics        *observability.Metrics
}

// SNSClientConfig holds SNS client configuration
type SNSClientConfig struct {
	AWSConfig   aws.Config
	Endpoint    string
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	RetryConfig *resilience.RetryConfig
}

// NewSNSClient creates a new SNS client with resilience patterns
func NewSNSClient(cfg SNSClientConfig) *SNSClient {
	client := sns.NewFromConfig(cfg.AWSConfig, func(o *sns.Options) {
		if endpoint := endpointOverride(cfg.Endpoint); endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
	return newSNSClient(client, cfg)
}

func newSNSClient(client snsAPI, cfg SNSClientConfig) *SNSClient {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNopMetrics()
	}

	retryConfig := resilience.DefaultRetryConfig()
	if cfg.RetryConfig != nil {
		retryConfig = *cfg.RetryConfig
	}

	logger := cfg.Logger
	metrics := cfg.Metrics
	circuitBreaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name:             "sns",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
		OnStateChange: func(from, to resilience.State) {
			logger.Info("SNS circuit breaker state changed",
				"from", from.String(),
				"to", to.String(),
			)
			metrics.SetCircuitBreakerState(context.Background(), "sns", int64(to))
		},
	})

	return &SNSClient{
		client:         client,
		circuitBreaker: circuitBreaker,
		retryConfig:    retryConfig,
		logger:         logger,
		metrics:        metrics,
	}
}

// Publish marshals message to JSON and publishes it with retry and circuit breaker
func (s *SNSClient) Publish(ctx context.Context, topicARN string, message any, attributes map[string]string) error {
	start := time.Now()

	messageJSON, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = s.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, s.retryConfig, func(ctx context.Context) error {
			return s.publishOnce(ctx, topicARN, string(messageJSON), attributes)
		})
	})

	duration := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.LogError(ctx, "SNS publish failed", err,
			"topic_arn", topicARN,
			"duration_ms", duration.Milliseconds(),
		)
	}
	s.metrics.RecordUpstreamCall(ctx, "sns", "publish", status, duration)

	return err
}

// publishOnce publishes a message without retry (single attempt)
func (s *SNSClient) publishOnce(ctx context.Context, topicARN, message string, attributes map[string]string) error {
	messageAttributes := make(map[string]types.MessageAttributeValue, len(attributes))
	for k, v := range attributes {
		messageAttributes[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(topicARN),
		Message:           aws.String(message),
		MessageAttributes: messageAttributes,
	})
	if err != nil {
		return fmt.Errorf("SNS publish failed: %w", err)
	}
	return nil
}

// CircuitBreakerState returns current circuit breaker state
func (s *SNSClient) CircuitBreakerState() resilience.State {
	return s.circuitBreaker.State()
}
