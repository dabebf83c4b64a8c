package main

import (
	"context"
	"fmt"

	"github.com/ceyewan/harvest/breaker"
	"github.com/ceyewan/harvest/cache"
	"github.com/ceyewan/harvest/chunk"
	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/config"
	"github.com/ceyewan/harvest/connector"
	"github.com/ceyewan/harvest/db"
	"github.com/ceyewan/harvest/fetcher"
	"github.com/ceyewan/harvest/metrics"
	"github.com/ceyewan/harvest/orchestrator"
	"github.com/ceyewan/harvest/progress"
	"github.com/ceyewan/harvest/ratelimit"
	"github.com/ceyewan/harvest/source/httpsource"
	"github.com/ceyewan/harvest/xerrors"
)

// Container 持有一次命令执行所需的全部组件
//
// 存储相关组件（进度、熔断、缓存）总是初始化；数据源与编排器只在
// 需要访问上游的命令中通过 Engine / Orchestrator 按需创建。
type Container struct {
	Config   *config.AppConfig
	Log      clog.Logger
	Meter    metrics.Meter
	DB       db.DB
	Progress *progress.Store
	Breakers *breaker.Registry
	Cache    cache.Cache

	engine *chunk.Engine
	orch   *orchestrator.Orchestrator

	loader  config.Loader
	cancel  context.CancelFunc
	closers []func(context.Context) error
}

// newContainer 加载配置并按依赖顺序初始化组件，任何一步失败都会释放已创建的资源
func newContainer(ctx context.Context, name string, paths []string) (*Container, error) {
	loader, err := config.New(&config.Config{Name: name, Paths: paths},
		config.WithDefaults(config.DefaultValues()))
	if err != nil {
		return nil, err
	}
	app, err := config.LoadApp(ctx, loader)
	if err != nil {
		return nil, err
	}

	c := &Container{Config: app, loader: loader}
	steps := []func(context.Context) error{
		c.initLogger,
		c.initMeter,
		c.initStorage,
		c.initComponents,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
	}
	return c, nil
}

func (c *Container) initLogger(ctx context.Context) error {
	logger, err := clog.New(&c.Config.Log, clog.WithNamespace("harvest"))
	if err != nil {
		return xerrors.Wrap(err, "create logger")
	}
	c.Log = logger
	c.onClose(func(context.Context) error {
		logger.Flush()
		return nil
	})

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	events, err := c.loader.Watch(watchCtx, "log.level")
	if err != nil {
		logger.Warn("watch log.level failed", clog.Error(err))
		return nil
	}
	go func() {
		for ev := range events {
			level, err := clog.ParseLevel(fmt.Sprint(ev.Value))
			if err != nil {
				logger.Warn("ignore invalid log level", clog.Any("value", ev.Value))
				continue
			}
			if err := logger.SetLevel(level); err == nil {
				logger.Info("log level changed", clog.String("level", level.String()))
			}
		}
	}()
	return nil
}

func (c *Container) initMeter(context.Context) error {
	mc := c.Config.Metrics
	meter, err := metrics.New(&metrics.Config{
		Enabled:     mc.Enabled,
		ServiceName: "harvest",
		Version:     version,
		Port:        mc.Port,
		Path:        mc.Path,
	}, metrics.WithLogger(c.Log))
	if err != nil {
		return xerrors.Wrap(err, "create meter")
	}
	c.Meter = meter
	c.onClose(meter.Shutdown)
	return nil
}

// initStorage 根据 storage.driver 建立连接并创建 db 组件
func (c *Container) initStorage(ctx context.Context) error {
	sc := c.Config.Storage
	opts := []db.Option{db.WithLogger(c.Log)}

	switch sc.Driver {
	case "sqlite":
		conn, err := connector.NewSQLite(&connector.SQLiteConfig{Name: "harvest", Path: sc.Path},
			connector.WithLogger(c.Log))
		if err != nil {
			return err
		}
		if err := conn.Connect(ctx); err != nil {
			return xerrors.Wrapf(err, "connect sqlite %s", sc.Path)
		}
		c.onClose(func(context.Context) error { return conn.Close() })
		opts = append(opts, db.WithSQLiteConnector(conn))
	case "mysql":
		conn, err := connector.NewMySQL(&connector.MySQLConfig{Name: "harvest", DSN: sc.DSN},
			connector.WithLogger(c.Log))
		if err != nil {
			return err
		}
		if err := conn.Connect(ctx); err != nil {
			return xerrors.Wrap(err, "connect mysql")
		}
		c.onClose(func(context.Context) error { return conn.Close() })
		opts = append(opts, db.WithMySQLConnector(conn))
	}

	database, err := db.New(&db.Config{Driver: sc.Driver}, opts...)
	if err != nil {
		return err
	}
	c.DB = database
	return nil
}

func (c *Container) initComponents(ctx context.Context) error {
	store, err := progress.New(ctx, c.DB, progress.WithLogger(c.Log))
	if err != nil {
		return err
	}
	c.Progress = store

	circuits, err := breaker.NewGormStore(ctx, c.DB)
	if err != nil {
		return err
	}
	bc := c.Config.Breaker
	c.Breakers, err = breaker.New(&breaker.Config{FailureThreshold: bc.FailureThreshold, Cooldown: bc.Cooldown},
		breaker.WithStore(circuits),
		breaker.WithLogger(c.Log),
		breaker.WithMeter(c.Meter))
	if err != nil {
		return err
	}

	cc := c.Config.Cache
	cacheOpts := []cache.Option{
		cache.WithDB(c.DB),
		cache.WithLogger(c.Log),
		cache.WithMeter(c.Meter),
	}
	if cc.Backend == cache.BackendRedis {
		rc, err := connector.NewRedis(&connector.RedisConfig{Name: "harvest", Addr: cc.RedisAddr, DB: cc.RedisDB},
			connector.WithLogger(c.Log))
		if err != nil {
			return err
		}
		if err := rc.Connect(ctx); err != nil {
			return xerrors.Wrapf(err, "connect redis %s", cc.RedisAddr)
		}
		c.onClose(func(context.Context) error { return rc.Close() })
		cacheOpts = append(cacheOpts, cache.WithRedisConnector(rc))
	}
	c.Cache, err = cache.New(&cache.Config{
		Backend:    cc.Backend,
		Prefix:     cc.Prefix,
		Serializer: cc.Serializer,
		Capacity:   cc.Capacity,
	}, cacheOpts...)
	if err != nil {
		return err
	}
	c.onClose(func(context.Context) error { return c.Cache.Close() })
	return nil
}

// Engine 创建 数据源 -> 抓取管道 -> 分片引擎 链路，需要 source.base_url
func (c *Container) Engine() (*chunk.Engine, error) {
	if c.engine != nil {
		return c.engine, nil
	}
	app := c.Config

	src, err := httpsource.New(&httpsource.Config{
		BaseURL:    app.Source.BaseURL,
		Token:      app.Source.Token,
		PerPage:    app.Source.PerPage,
		MaxPages:   app.Source.MaxPages,
		Timeout:    app.Source.Timeout,
		IDField:    app.Source.IDField,
		TimeField:  app.Source.TimeField,
		ItemsField: app.Source.ItemsField,
	}, httpsource.WithLogger(c.Log))
	if err != nil {
		return nil, err
	}

	rl := app.RateLimit
	limiter, err := ratelimit.New(&ratelimit.Config{
		Enabled:      rl.Enabled,
		Quota:        ratelimit.Quota{HardLimit: rl.HardLimit, Buffer: rl.Buffer, Window: rl.Window},
		PollInterval: rl.PollInterval,
	}, ratelimit.WithLogger(c.Log), ratelimit.WithMeter(c.Meter))
	if err != nil {
		return nil, err
	}

	fc := app.Fetch
	pipeline, err := fetcher.New(&fetcher.Config{
		RetryAttempts: fc.RetryAttempts,
		RetryMinWait:  fc.RetryMinWait,
		RetryMaxWait:  fc.RetryMaxWait,
		FreshTTL:      fc.FreshTTL,
		StaleTTL:      fc.StaleTTL,
	}, src,
		fetcher.WithCache(c.Cache),
		fetcher.WithBreaker(c.Breakers),
		fetcher.WithLimiter(limiter),
		fetcher.WithLogger(c.Log),
		fetcher.WithMeter(c.Meter))
	if err != nil {
		return nil, err
	}

	c.engine, err = chunk.New(&chunk.Config{MaxDays: app.Chunk.MaxDays, StateTTL: app.Chunk.StateTTL},
		pipeline, c.Cache,
		chunk.WithTracker(c.Progress),
		chunk.WithLogger(c.Log),
		chunk.WithMeter(c.Meter))
	if err != nil {
		return nil, err
	}
	return c.engine, nil
}

// Orchestrator 创建多分区编排器
func (c *Container) Orchestrator() (*orchestrator.Orchestrator, error) {
	if c.orch != nil {
		return c.orch, nil
	}
	engine, err := c.Engine()
	if err != nil {
		return nil, err
	}
	pc := c.Config.Parallel
	c.orch, err = orchestrator.New(c.Progress, engine,
		orchestrator.WithParallel(pc.Enabled),
		orchestrator.WithMaxWorkers(pc.MaxWorkers),
		orchestrator.WithLogger(c.Log),
		orchestrator.WithMeter(c.Meter))
	if err != nil {
		return nil, err
	}
	return c.orch, nil
}

// onClose 登记关闭函数，Close 时逆序执行
func (c *Container) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

// Close 逆序释放资源，返回所有关闭错误的合并结果
func (c *Container) Close(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i](ctx))
	}
	c.closers = nil
	return xerrors.Combine(errs...)
}
