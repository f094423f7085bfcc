/*
Copyright 2024 Coinvoice Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5002"

	// ProcessorModeMock serves deterministic local responses instead of
	// calling the processor; ProcessorModeLive performs real API calls and
	// enforces webhook signatures.
	ProcessorModeMock = "mock"
	ProcessorModeLive = "live"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"CVC_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"CVC_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"CVC_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"CVC_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"CVC_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"CVC_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"CVC_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"CVC_REDIS_DNS"`
}

// ProcessorConfig holds the credentials and posture for the external payment
// processor. WebhookSecret signs inbound events; in live mode a missing
// secret rejects every event rather than accepting them unsigned.
type ProcessorConfig struct {
	ApiUrl               string `json:"api_url" envconfig:"CVC_PROCESSOR_API_URL"`
	ApiUser              string `json:"api_user" envconfig:"CVC_PROCESSOR_API_USER"`
	ApiSecret            string `json:"api_secret" envconfig:"CVC_PROCESSOR_API_SECRET"`
	WebhookSecret        string `json:"webhook_secret" envconfig:"CVC_PROCESSOR_WEBHOOK_SECRET"`
	Mode                 string `json:"mode" envconfig:"CVC_PROCESSOR_MODE"`
	TimeoutSec           int    `json:"timeout_sec" envconfig:"CVC_PROCESSOR_TIMEOUT_SEC"`
	ReplayWindowSec      int    `json:"replay_window_sec" envconfig:"CVC_PROCESSOR_REPLAY_WINDOW_SEC"`
	InvoiceTTLMinutes    int    `json:"invoice_ttl_minutes" envconfig:"CVC_PROCESSOR_INVOICE_TTL_MINUTES"`
	ReconcileIntervalSec int    `json:"reconcile_interval_sec" envconfig:"CVC_RECONCILE_INTERVAL_SEC"`
}

// BucketConfig is a token bucket shape for one outbound caller class.
type BucketConfig struct {
	Capacity   float64 `json:"capacity"`
	RefillRate float64 `json:"refill_rate"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64                `json:"requests_per_second" envconfig:"CVC_RATE_LIMIT_RPS"`
	Burst              *int                    `json:"burst" envconfig:"CVC_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int                    `json:"cleanup_interval_sec" envconfig:"CVC_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
	Buckets            map[string]BucketConfig `json:"buckets"`
}

// ChainConfig lists the RPC endpoints backing one logical chain upstream.
type ChainConfig struct {
	RpcUrls []string `json:"rpc_urls"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type AnalyticsConfig struct {
	PosthogApiKey   string `json:"posthog_api_key" envconfig:"CVC_ANALYTICS_POSTHOG_API_KEY"`
	PosthogEndpoint string `json:"posthog_endpoint" envconfig:"CVC_ANALYTICS_POSTHOG_ENDPOINT"`
}

type Configuration struct {
	ProjectName     string                 `json:"project_name" envconfig:"CVC_PROJECT_NAME"`
	EnableTelemetry bool                   `json:"enable_telemetry" envconfig:"CVC_ENABLE_TELEMETRY"`
	OtlpEndpoint    string                 `json:"otlp_endpoint" envconfig:"CVC_OTLP_ENDPOINT"`
	Server          ServerConfig           `json:"server"`
	DataSource      DataSourceConfig       `json:"data_source"`
	Redis           RedisConfig            `json:"redis"`
	Processor       ProcessorConfig        `json:"processor"`
	Chains          map[string]ChainConfig `json:"chains"`
	Notification    Notification           `json:"notification"`
	RateLimit       RateLimitConfig        `json:"rate_limit"`
	Analytics       AnalyticsConfig        `json:"analytics"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("cvc", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called coinvoice.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Coinvoice Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Processor.Mode == "" {
		cnf.Processor.Mode = ProcessorModeMock
		log.Println("Warning: Processor mode not specified. Defaulting to mock mode.")
	}
	if cnf.Processor.Mode != ProcessorModeMock && cnf.Processor.Mode != ProcessorModeLive {
		return errors.New("processor mode must be 'mock' or 'live'")
	}
	if cnf.Processor.Mode == ProcessorModeLive && cnf.Processor.WebhookSecret == "" {
		// Fail closed: an unsigned webhook channel in live mode is a
		// misconfiguration, not a default to paper over.
		return errors.New("processor webhook secret is required in live mode")
	}
	if cnf.Processor.ApiUrl == "" {
		cnf.Processor.ApiUrl = "https://api.forumpay.com/pay/v2"
	}
	if cnf.Processor.TimeoutSec == 0 {
		cnf.Processor.TimeoutSec = 10
	}
	if cnf.Processor.ReplayWindowSec == 0 {
		cnf.Processor.ReplayWindowSec = 300
	}
	if cnf.Processor.InvoiceTTLMinutes == 0 {
		cnf.Processor.InvoiceTTLMinutes = 15
	}

	if cnf.RateLimit.Buckets == nil {
		cnf.RateLimit.Buckets = DefaultBuckets()
	} else {
		for class, bucket := range DefaultBuckets() {
			if _, ok := cnf.RateLimit.Buckets[class]; !ok {
				cnf.RateLimit.Buckets[class] = bucket
			}
		}
	}

	// HTTP edge rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// DefaultBuckets returns the token bucket shapes for the outbound caller
// classes when the config file does not override them.
func DefaultBuckets() map[string]BucketConfig {
	return map[string]BucketConfig{
		"create-invoice": {Capacity: 10, RefillRate: 1},
		"webhook":        {Capacity: 50, RefillRate: 10},
		"reconcile":      {Capacity: 5, RefillRate: 0.1},
		"default":        {Capacity: 20, RefillRate: 2},
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.RateLimit.Buckets == nil {
		mockConfig.RateLimit.Buckets = DefaultBuckets()
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
