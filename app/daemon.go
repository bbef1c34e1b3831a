package app

import (
	"context"
	stdErrors "errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"policykit/config"
	"policykit/logging"
	"policykit/server"
)

// Daemon 以 server.Engine 生命周期运行 App：后台定期回收过期预留，
// 配置了 MetricsAddr 时对外暴露 /metrics
type Daemon struct {
	loadConfig func() (config.Config, error)
	opts       []Option
	registry   *prometheus.Registry

	cfg    config.Config
	app    *App
	logger logging.Logger
	reaped chan int
	srv    *http.Server
}

// NewDaemon 创建守护进程；loadConfig 为 nil 时读取环境变量
func NewDaemon(loadConfig func() (config.Config, error), opts ...Option) *Daemon {
	if loadConfig == nil {
		loadConfig = config.ParseEnv
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Daemon{loadConfig: loadConfig, opts: opts, registry: reg}
}

var _ server.IServer = (*Daemon)(nil)

func (d *Daemon) Name() string { return "policykitd" }

func (d *Daemon) LoadConfig() error {
	cfg, err := d.loadConfig()
	if err != nil {
		return err
	}
	d.cfg = cfg
	return nil
}

func (d *Daemon) SetupDependencies(ctx context.Context) error {
	a, err := Build(ctx, d.cfg, d.registry, d.opts...)
	if err != nil {
		return err
	}
	d.app = a
	d.logger = a.Logger.WithFields(logging.Component("daemon"))

	if d.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
		d.srv = &http.Server{Addr: d.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	return nil
}

// App 装配后的组件，SetupDependencies 之前为 nil
func (d *Daemon) App() *App { return d.app }

// Gatherer 守护进程使用的指标注册表
func (d *Daemon) Gatherer() prometheus.Gatherer { return d.registry }

func (d *Daemon) StartBackgroundTasks(ctx context.Context) error {
	if d.cfg.Pool.ReservationTTL <= 0 {
		d.logger.Info(ctx, "未配置预留有效期，跳过过期回收")
		return nil
	}
	go d.reapLoop(ctx, d.cfg.Pool.ReapInterval)
	return nil
}

func (d *Daemon) reapLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reapOnce(ctx)
		}
	}
}

func (d *Daemon) reapOnce(ctx context.Context) int {
	n, err := d.app.Pool.ReleaseExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error(ctx, "回收过期预留失败", logging.Error(err))
		}
		return 0
	}
	if n > 0 {
		d.logger.Info(ctx, "已回收过期预留", logging.Int("released", n))
	}
	if d.reaped != nil {
		select {
		case d.reaped <- n:
		default:
		}
	}
	return n
}

func (d *Daemon) Run(ctx context.Context) error {
	if d.srv == nil {
		<-ctx.Done()
		return nil
	}

	errCh := make(chan error, 1)
	go func() { errCh <- d.srv.ListenAndServe() }()
	d.logger.Info(ctx, "指标端点已启动", logging.String("addr", d.cfg.MetricsAddr))

	select {
	case err := <-errCh:
		if stdErrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

func (d *Daemon) Shutdown(ctx context.Context) error {
	var errs []error
	if d.srv != nil {
		if err := d.srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if d.app != nil {
		if err := d.app.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stdErrors.Join(errs...)
}
