package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/config"
)

const (
	configFilePath         = "etc/app.yaml"
	gracefulShutdownPeriod = 5 * time.Second
)

//
// HTTP 服务器管理
//

// ServerManager HTTP 服务器管理器
type ServerManager struct {
	server *http.Server
}

// NewServerManager 创建服务器管理器实例
func NewServerManager(address string, handler http.Handler) *ServerManager {
	return &ServerManager{
		server: &http.Server{
			Addr:    address,
			Handler: handler,
		},
	}
}

// Start 启动 HTTP 服务器
// 在独立的 goroutine 中运行,避免阻塞主流程
func (manager *ServerManager) Start() {
	go func() {
		log.Printf("[Server] HTTP 服务启动于 %s", manager.server.Addr)

		if err := manager.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Server] 启动失败: %v", err)
		}
	}()
}

// GracefulShutdown 优雅关闭服务器
// 等待现有请求完成或超时后强制关闭
func (manager *ServerManager) GracefulShutdown() error {
	log.Println("[Server] 开始优雅关闭...")

	shutdownContext, cancel := context.WithTimeout(
		context.Background(),
		gracefulShutdownPeriod,
	)
	defer cancel()

	if err := manager.server.Shutdown(shutdownContext); err != nil {
		log.Printf("[Server] 关闭过程出现错误: %v", err)
		return err
	}

	log.Println("[Server] 优雅关闭完成")
	return nil
}

//
// 信号处理器
//

// SignalHandler 系统信号处理器
type SignalHandler struct {
	notifyContext context.Context
	stopFunc      context.CancelFunc
}

// NewSignalHandler 创建信号处理器实例
// 监听 SIGINT 和 SIGTERM 信号用于优雅关闭
func NewSignalHandler() *SignalHandler {
	notifyContext, stopFunc := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	return &SignalHandler{
		notifyContext: notifyContext,
		stopFunc:      stopFunc,
	}
}

// WaitForShutdownSignal 等待关闭信号
// 阻塞直到收到中断信号
func (handler *SignalHandler) WaitForShutdownSignal() {
	<-handler.notifyContext.Done()
	handler.stopFunc()
	log.Println("[SignalHandler] 收到关闭信号")
}

//
// 应用程序启动器
//

// ApplicationRunner 应用程序运行器
// 负责整个应用的生命周期管理
type ApplicationRunner struct {
	configuration config.Config
	serverManager *ServerManager
	signalHandler *SignalHandler
	appContext    *AppContext
}

// NewApplicationRunner 创建应用运行器实例
func NewApplicationRunner() *ApplicationRunner {
	configuration := config.MustLoad(configFilePath)

	return &ApplicationRunner{
		configuration: configuration,
		signalHandler: NewSignalHandler(),
	}
}

// Run 运行应用程序
// 执行完整的启动、运行和关闭流程
func (runner *ApplicationRunner) Run() {
	runner.initializeApplication()
	runner.startConsumer()
	runner.startHTTPServer()
	runner.waitForShutdown()
}

// initializeApplication 初始化应用程序
func (runner *ApplicationRunner) initializeApplication() {
	runner.appContext = InitAppContext(runner.configuration)
	log.Println("[Runner] 应用程序初始化完成")
}

// startConsumer 启动变更事件消费者
func (runner *ApplicationRunner) startConsumer() {
	startChangeEventConsumer(runner.appContext)
	log.Println("[Runner] 变更事件消费者启动完成")
}

// startHTTPServer 启动 HTTP 服务器
func (runner *ApplicationRunner) startHTTPServer() {
	router := BuildGinRouter(runner.appContext)

	runner.serverManager = NewServerManager(runner.configuration.App.Addr, router)
	runner.serverManager.Start()
}

// waitForShutdown 等待并执行优雅关闭
// 确保所有资源正确释放
func (runner *ApplicationRunner) waitForShutdown() {
	runner.signalHandler.WaitForShutdownSignal()
	runner.performShutdown()
}

// performShutdown 执行关闭流程
func (runner *ApplicationRunner) performShutdown() {
	// 先关闭 HTTP 服务器,停止接收新请求
	if err := runner.serverManager.GracefulShutdown(); err != nil {
		log.Printf("[Runner] 服务器关闭出现错误: %v", err)
	}

	// 再关闭应用上下文,释放所有资源
	if runner.appContext != nil {
		runner.appContext.Close()
		log.Println("[Runner] 应用上下文资源释放完成")
	}

	log.Println("[Runner] 应用程序已完全关闭")
}
