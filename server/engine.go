// Package server 定义进程生命周期模板：加载配置、装配依赖、启动后台任务、运行、优雅关闭
package server

import (
	"context"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"

	"policykit/logging"
)

// IServer 业务进程需要实现的生命周期钩子
type IServer interface {
	Name() string

	// LoadConfig 解析环境变量等配置
	LoadConfig() error

	// SetupDependencies 连接存储、NATS，组装号码池与分发器
	SetupDependencies(ctx context.Context) error

	// StartBackgroundTasks 启动非阻塞后台任务（例如过期预留回收）
	StartBackgroundTasks(ctx context.Context) error

	// Run 阻塞运行主服务，ctx 取消时应返回
	Run(ctx context.Context) error

	// Shutdown 关闭连接、刷新日志
	Shutdown(ctx context.Context) error
}

// Engine 编排启动流程：Init -> Setup -> Background -> Run -> Signal -> Shutdown
type Engine struct {
	server  IServer
	options *Options
	state   atomic.Int32
}

// NewEngine 创建启动引擎
func NewEngine(server IServer, opts ...Option) *Engine {
	options := DefaultOptions()
	if name := server.Name(); name != "" {
		options.Name = name
	}
	for _, o := range opts {
		o(options)
	}
	if options.Logger == nil {
		options.Logger = logging.GetLogger()
	}
	options.Logger = options.Logger.WithFields(logging.Component("server"), logging.String("service", options.Name))

	e := &Engine{server: server, options: options}
	e.setState(StatePending)
	return e
}

// State 当前引擎状态
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

func (e *Engine) runHooks(ctx context.Context, hooks []Hook, phase string, fatal bool) error {
	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			if fatal {
				return fmt.Errorf("%s hook failed: %w", phase, err)
			}
			e.options.Logger.Warn(ctx, "生命周期回调失败", logging.String("phase", phase), logging.Error(err))
		}
	}
	return nil
}

// Start 使用进程信号驱动关闭
func (e *Engine) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	return e.StartContext(ctx)
}

// StartContext 执行启动模板；parent 取消等同于收到关闭信号
func (e *Engine) StartContext(parent context.Context) error {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer cancel()
	log := e.options.Logger

	log.Info(ctx, "启动中", logging.String("version", e.options.Version))

	e.setState(StateInitializing)
	if err := e.runHooks(ctx, e.options.OnBeforeInit, "OnBeforeInit", true); err != nil {
		e.setState(StateError)
		return err
	}
	if err := e.server.LoadConfig(); err != nil {
		e.setState(StateError)
		return fmt.Errorf("failed to load config: %w", err)
	}

	setupCtx, setupCancel := context.WithTimeout(ctx, e.options.StartupTimeout)
	err := e.server.SetupDependencies(setupCtx)
	setupCancel()
	if err != nil {
		e.setState(StateError)
		return fmt.Errorf("failed to setup dependencies: %w", err)
	}
	e.setState(StatePrepared)

	if err := e.runHooks(ctx, e.options.OnBeforeStart, "OnBeforeStart", true); err != nil {
		e.setState(StateError)
		return err
	}
	if err := e.server.StartBackgroundTasks(ctx); err != nil {
		e.setState(StateError)
		return fmt.Errorf("failed to start background tasks: %w", err)
	}

	e.setState(StateRunning)
	errChan := make(chan error, 1)
	go func() {
		errChan <- e.server.Run(ctx)
	}()

	var runErr error
	select {
	case err := <-errChan:
		if err != nil {
			log.Error(ctx, "主服务异常退出", logging.Error(err))
			runErr = err
		} else {
			log.Info(ctx, "主服务已退出")
		}
	case <-parent.Done():
		log.Info(ctx, "收到关闭信号")
	}
	cancel()

	e.setState(StateStopping)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), e.options.ShutdownTimeout)
	defer shutdownCancel()

	_ = e.runHooks(shutdownCtx, e.options.OnBeforeStop, "OnBeforeStop", false)
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		e.setState(StateError)
		log.Error(shutdownCtx, "关闭失败", logging.Error(err))
		return err
	}
	_ = e.runHooks(shutdownCtx, e.options.OnAfterStop, "OnAfterStop", false)

	if runErr != nil {
		e.setState(StateError)
		return fmt.Errorf("server execution error: %w", runErr)
	}
	e.setState(StateStopped)
	log.Info(shutdownCtx, "已停止")
	return nil
}
