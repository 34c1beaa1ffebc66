package main

import (
	"log"
)

func main() {
	log.Println("[Main] 通知分发服务启动中...")

	runner := NewApplicationRunner()
	runner.Run()

	log.Println("[Main] 通知分发服务已停止")
}
