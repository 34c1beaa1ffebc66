package main

import (
	"log"

	redis "github.com/redis/go-redis/v9"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/config"
	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/database"
	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify"
	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/permissions"
	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/queue"
	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/recorder"
	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/recordstore"
	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/subscription"
	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/transport"
)

// AppContext 应用运行时上下文
// 聚合所有运行期依赖,统一管理生命周期
type AppContext struct {
	Config        config.Config
	RedisClient   *redis.Client
	MySQL         *database.MySQLDB
	Records       *recordstore.MySQLStore
	Permissions   *permissions.MySQLStore
	Subscriptions *subscription.RedisStore
	DispatchLog   *recorder.RedisStore
	Transport     *transport.WebPushTransport
	Pipeline      *notify.Pipeline
	Enqueuer      queue.Enqueuer
}

// Close 释放应用上下文持有的所有资源
// 按照依赖关系倒序释放,避免资源泄漏
func (context *AppContext) Close() {
	context.closeEnqueuer()
	context.closeMySQLConnection()
	context.closeRedisClient()
}

// closeEnqueuer 关闭队列生产者
func (context *AppContext) closeEnqueuer() {
	if context.Enqueuer != nil {
		context.Enqueuer.Close()
	}
}

// closeMySQLConnection 关闭 MySQL 连接
func (context *AppContext) closeMySQLConnection() {
	if context.MySQL != nil {
		context.MySQL.Close()
	}
}

// closeRedisClient 关闭 Redis 客户端
func (context *AppContext) closeRedisClient() {
	if context.RedisClient != nil {
		_ = context.RedisClient.Close()
	}
}

//
// 应用初始化器
//

// ApplicationInitializer 应用初始化器
// 负责构建完整的应用运行上下文
type ApplicationInitializer struct {
	configuration config.Config
	redisClient   *redis.Client
	mysqlDatabase *database.MySQLDB
}

// NewApplicationInitializer 创建应用初始化器实例
func NewApplicationInitializer(configuration config.Config) *ApplicationInitializer {
	return &ApplicationInitializer{
		configuration: configuration,
	}
}

// Initialize 初始化应用上下文
// 按照依赖关系依次初始化各个组件
func (initializer *ApplicationInitializer) Initialize() *AppContext {
	initializer.initializeRedis()
	initializer.initializeMySQL()

	records := recordstore.NewMySQLStore(initializer.mysqlDatabase)
	permissionStore := permissions.NewMySQLStore(initializer.mysqlDatabase)
	subscriptions := initializer.createSubscriptionStore()
	dispatchLog := initializer.createDispatchLog()
	pushTransport := initializer.createTransport()

	pipeline := initializer.createPipeline(records, permissionStore, subscriptions, pushTransport, dispatchLog)
	enqueuer := initializer.createEnqueuer()

	return &AppContext{
		Config:        initializer.configuration,
		RedisClient:   initializer.redisClient,
		MySQL:         initializer.mysqlDatabase,
		Records:       records,
		Permissions:   permissionStore,
		Subscriptions: subscriptions,
		DispatchLog:   dispatchLog,
		Transport:     pushTransport,
		Pipeline:      pipeline,
		Enqueuer:      enqueuer,
	}
}

// initializeRedis 初始化 Redis 客户端
func (initializer *ApplicationInitializer) initializeRedis() {
	initializer.redisClient = redis.NewClient(&redis.Options{
		Addr: initializer.configuration.Storage.RedisAddr,
	})

	log.Println("[Initializer] Redis 客户端初始化完成")
}

// initializeMySQL 初始化 MySQL 连接并建表
// 记录与权限是分发的必备依赖,连接失败直接终止启动
func (initializer *ApplicationInitializer) initializeMySQL() {
	db, err := database.NewMySQLDB(initializer.configuration.Storage.MySQL)
	if err != nil {
		log.Fatalf("[Initializer] MySQL 连接失败: %v", err)
	}

	if err := db.InitTables(); err != nil {
		log.Fatalf("[Initializer] 初始化表结构失败: %v", err)
	}

	initializer.mysqlDatabase = db
	log.Println("[Initializer] MySQL 连接成功")
}

// createSubscriptionStore 创建订阅存储
func (initializer *ApplicationInitializer) createSubscriptionStore() *subscription.RedisStore {
	return subscription.NewRedisStore(initializer.redisClient, subscription.Options{
		Namespace:  initializer.configuration.Storage.Namespace,
		MaxPerUser: initializer.configuration.Storage.SubMaxPerUser,
		TTL:        initializer.configuration.Storage.SubscriptionTTL,
	})
}

// createDispatchLog 创建分发结果存储
func (initializer *ApplicationInitializer) createDispatchLog() *recorder.RedisStore {
	return recorder.NewRedisStore(
		initializer.redisClient,
		initializer.configuration.Storage.Namespace,
		initializer.configuration.Storage.MaxKeepReports,
		initializer.configuration.Storage.ReportTTL,
	)
}

// createTransport 创建 Web Push 传输
func (initializer *ApplicationInitializer) createTransport() *transport.WebPushTransport {
	return transport.NewWebPushTransport(transport.Config{
		VAPIDPublicKey:  initializer.configuration.Push.VAPIDPublicKey,
		VAPIDPrivateKey: initializer.configuration.Push.VAPIDPrivateKey,
		Subscriber:      initializer.configuration.Push.Subscriber,
		TTL:             initializer.configuration.Push.TTL,
		Timeout:         initializer.configuration.Push.Timeout,
	})
}

// createPipeline 组装分发编排器
func (initializer *ApplicationInitializer) createPipeline(
	records *recordstore.MySQLStore,
	permissionStore *permissions.MySQLStore,
	subscriptions *subscription.RedisStore,
	pushTransport *transport.WebPushTransport,
	dispatchLog *recorder.RedisStore,
) *notify.Pipeline {
	lookupTimeout := initializer.configuration.App.LookupTimeout
	reporter := notify.NewLogReporter("NOTIFY")

	resolver := notify.NewResolver(records, permissionStore, lookupTimeout)
	payloads := notify.NewPayloadBuilder(records, initializer.configuration.Labels, lookupTimeout)
	fanout := notify.NewFanout(
		subscriptions,
		pushTransport,
		reporter,
		initializer.configuration.Push.Workers,
		initializer.configuration.Push.Timeout,
	)

	pipeline, err := notify.NewPipeline(
		notify.DefaultCatalog(),
		resolver,
		payloads,
		fanout,
		dispatchLog,
		reporter,
		initializer.configuration.App.RuleConcurrency,
	)
	if err != nil {
		log.Fatalf("[Initializer] 创建分发编排器失败: %v", err)
	}

	log.Println("[Initializer] 分发编排器创建完成")
	return pipeline
}

// createEnqueuer 创建变更事件生产者
// 未配置生产者地址时返回 nil,事件入口退化为同步分发
func (initializer *ApplicationInitializer) createEnqueuer() queue.Enqueuer {
	address := initializer.configuration.NSQ.ProducerAddr
	if address == "" {
		log.Println("[Initializer] 未配置 NSQ 生产者,事件入口使用同步分发")
		return nil
	}

	producer, err := queue.NewNSQProducer(address, initializer.configuration.NSQ.Topic)
	if err != nil {
		log.Fatalf("[Initializer] 创建事件生产者失败: %v", err)
	}

	log.Println("[Initializer] 事件生产者创建成功")
	return producer
}

//
// 外部调用接口
//

// InitAppContext 初始化应用上下文
func InitAppContext(configuration config.Config) *AppContext {
	initializer := NewApplicationInitializer(configuration)
	return initializer.Initialize()
}
