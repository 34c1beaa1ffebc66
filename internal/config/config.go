package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 默认配置常量
const (
	// NSQ 队列默认配置
	DefaultNSQTopic       = "record-changes"
	DefaultNSQChannel     = "notify-dispatch"
	DefaultNSQMaxInFlight = 128
	DefaultNSQConcurrency = 8
	DefaultNSQMaxAttempts = 5
	DefaultDLQTopicSuffix = ".DLQ"

	// 应用默认配置
	DefaultHTTPAddress     = ":8080"
	DefaultRequestTimeout  = 30 * time.Second
	DefaultLookupTimeout   = 5 * time.Second
	DefaultRuleConcurrency = 4

	// 存储默认配置
	DefaultRedisNamespace  = "notify"
	DefaultMaxKeepReports  = 1_000_000
	DefaultReportTTL       = 90 * 24 * time.Hour
	DefaultSubMaxPerUser   = 16
	DefaultSubscriptionTTL = 365 * 24 * time.Hour

	// 推送默认配置
	DefaultPushTTLSeconds = 86400
	DefaultPushTimeout    = 10 * time.Second
	DefaultPushWorkers    = 8
)

// App 应用全局配置
type App struct {
	Addr            string        `yaml:"Addr"`            // HTTP 监听地址
	RequestTimeout  time.Duration `yaml:"RequestTimeout"`  // 单次分发处理超时
	LookupTimeout   time.Duration `yaml:"LookupTimeout"`   // 外部查询超时
	RuleConcurrency int           `yaml:"RuleConcurrency"` // 规则并发求值上限
}

// Storage 存储配置
// 包含 Redis(订阅/分发结果) 和 MySQL(记录/权限) 配置
type Storage struct {
	RedisAddr       string        `yaml:"RedisAddr"`       // Redis 地址
	Namespace       string        `yaml:"Namespace"`       // Redis 键前缀
	SubMaxPerUser   int64         `yaml:"SubMaxPerUser"`   // 单用户最大端点数
	SubscriptionTTL time.Duration `yaml:"SubscriptionTTL"` // 订阅过期时间
	MaxKeepReports  int64         `yaml:"MaxKeepReports"`  // 最大保留分发结果数
	ReportTTL       time.Duration `yaml:"ReportTTL"`       // 分发结果过期时间
	MySQL           MySQLConfig   `yaml:"MySQL"`           // MySQL 配置
}

// MySQLConfig MySQL 数据库连接配置
type MySQLConfig struct {
	DSN             string        `yaml:"DSN"`             // 数据源配置
	MaxOpenConns    int           `yaml:"MaxOpenConns"`    // 最大打开连接数
	MaxIdleConns    int           `yaml:"MaxIdleConns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `yaml:"ConnMaxLifetime"` // 连接最大生命周期
}

// NSQ 消息队列配置
// 承载上游系统发布的记录变更事件
type NSQ struct {
	Topic                       string   `yaml:"Topic"`                       // 变更事件主题
	Channel                     string   `yaml:"Channel"`                     // 消费者通道
	NsqdTCPAddrs                []string `yaml:"NsqdTCPAddrs"`                // NSQD TCP 地址列表
	LookupdHTTPAddrs            []string `yaml:"LookupdHTTPAddrs"`            // Lookupd HTTP 地址列表
	MaxInFlight                 int      `yaml:"MaxInFlight"`                 // 最大并发消息数
	Concurrency                 int      `yaml:"Concurrency"`                 // 处理并发数
	ProducerAddr                string   `yaml:"ProducerAddr"`                // 生产者地址
	ConsumerEnabled             bool     `yaml:"ConsumerEnabled"`             // 是否启用消费
	DLQTopic                    string   `yaml:"DLQTopic"`                    // 死信队列主题
	MaxConsumeAttemptsBeforeDLQ int      `yaml:"MaxConsumeAttemptsBeforeDLQ"` // 进入死信队列前最大尝试次数
}

// Push Web Push 推送配置
type Push struct {
	VAPIDPublicKey  string        `yaml:"VAPIDPublicKey"`  // VAPID 公钥
	VAPIDPrivateKey string        `yaml:"VAPIDPrivateKey"` // VAPID 私钥
	Subscriber      string        `yaml:"Subscriber"`      // VAPID 联系邮箱
	TTL             int           `yaml:"TTL"`             // 推送服务保留秒数
	Timeout         time.Duration `yaml:"Timeout"`         // 单端点投递超时
	Workers         int           `yaml:"Workers"`         // 接收人并发扇出上限
}

// Config 应用完整配置
type Config struct {
	App     App               `yaml:"App"`
	Storage Storage           `yaml:"Storage"`
	NSQ     NSQ               `yaml:"NSQ"`
	Push    Push              `yaml:"Push"`
	Labels  map[string]string `yaml:"Labels"` // 通知类型 → 文案覆盖
}

// MustLoad 加载 YAML 配置文件
// 加载失败时直接 panic(用于应用启动阶段)
func MustLoad(configPath string) Config {
	fileContent, err := os.ReadFile(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to read config file: %v", err))
	}

	var config Config
	if err := yaml.Unmarshal(fileContent, &config); err != nil {
		panic(fmt.Sprintf("failed to unmarshal config: %v", err))
	}

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("config validation failed: %v", err))
	}

	return config
}

// validate 校验配置并设置默认值
func (config *Config) validate() error {
	if err := config.validateAppConfig(); err != nil {
		return err
	}

	if err := config.validateStorageConfig(); err != nil {
		return err
	}

	if err := config.validateNSQConfig(); err != nil {
		return err
	}

	if err := config.validatePushConfig(); err != nil {
		return err
	}

	return nil
}

// validateAppConfig 校验应用配置并设置默认值
func (config *Config) validateAppConfig() error {
	if config.App.Addr == "" {
		config.App.Addr = DefaultHTTPAddress
	}

	if config.App.RequestTimeout <= 0 {
		config.App.RequestTimeout = DefaultRequestTimeout
	}

	if config.App.LookupTimeout <= 0 {
		config.App.LookupTimeout = DefaultLookupTimeout
	}

	if config.App.RuleConcurrency <= 0 {
		config.App.RuleConcurrency = DefaultRuleConcurrency
	}

	return nil
}

// validateStorageConfig 校验存储配置并设置默认值
func (config *Config) validateStorageConfig() error {
	if config.Storage.Namespace == "" {
		config.Storage.Namespace = DefaultRedisNamespace
	}

	if config.Storage.SubMaxPerUser <= 0 {
		config.Storage.SubMaxPerUser = DefaultSubMaxPerUser
	}

	if config.Storage.SubscriptionTTL <= 0 {
		config.Storage.SubscriptionTTL = DefaultSubscriptionTTL
	}

	if config.Storage.MaxKeepReports <= 0 {
		config.Storage.MaxKeepReports = DefaultMaxKeepReports
	}

	if config.Storage.ReportTTL <= 0 {
		config.Storage.ReportTTL = DefaultReportTTL
	}

	return nil
}

// validateNSQConfig 校验 NSQ 配置并设置默认值
func (config *Config) validateNSQConfig() error {
	if config.NSQ.Topic == "" {
		config.NSQ.Topic = DefaultNSQTopic
	}

	if config.NSQ.Channel == "" {
		config.NSQ.Channel = DefaultNSQChannel
	}

	if config.NSQ.MaxInFlight <= 0 {
		config.NSQ.MaxInFlight = DefaultNSQMaxInFlight
	}

	if config.NSQ.Concurrency <= 0 {
		config.NSQ.Concurrency = DefaultNSQConcurrency
	}

	if config.NSQ.MaxConsumeAttemptsBeforeDLQ <= 0 {
		config.NSQ.MaxConsumeAttemptsBeforeDLQ = DefaultNSQMaxAttempts
	}

	if config.NSQ.DLQTopic == "" {
		config.NSQ.DLQTopic = config.NSQ.Topic + DefaultDLQTopicSuffix
	}

	return nil
}

// validatePushConfig 校验推送配置并设置默认值
// VAPID 密钥对没有可用默认值,缺失即拒绝启动
func (config *Config) validatePushConfig() error {
	if config.Push.VAPIDPublicKey == "" || config.Push.VAPIDPrivateKey == "" {
		return fmt.Errorf("push VAPID key pair is required")
	}

	if config.Push.Subscriber == "" {
		return fmt.Errorf("push subscriber contact is required")
	}

	if config.Push.TTL <= 0 {
		config.Push.TTL = DefaultPushTTLSeconds
	}

	if config.Push.Timeout <= 0 {
		config.Push.Timeout = DefaultPushTimeout
	}

	if config.Push.Workers <= 0 {
		config.Push.Workers = DefaultPushWorkers
	}

	return nil
}
