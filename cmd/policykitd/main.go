// policykitd 运行号码池守护进程：回收过期预留并暴露指标
package main

import (
	"fmt"
	"os"

	"policykit/app"
	"policykit/server"
)

var version = "dev"

func main() {
	engine := server.NewEngine(app.NewDaemon(nil), server.WithVersion(version))
	if err := engine.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "policykitd: %v\n", err)
		os.Exit(1)
	}
}
