package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/logger"
	"resume-pipeline/internal/storage/models"
	"resume-pipeline/internal/tracing"
)

var dbTracer = otel.Tracer("resume-pipeline/storage/db")

type spanContextKey struct{}

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	dbSystem       attribute.KeyValue
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("otel:before_row", p.before("ROW")); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register("otel:after_row", p.after()); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	return cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after())
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}

		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				p.dbSystem,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		}
		if sqlStatement := db.Statement.SQL.String(); sqlStatement != "" {
			opts = append(opts, trace.WithAttributes(attribute.String("db.statement", tracing.SafeSQL(sqlStatement))))
		}

		newCtx, span := p.tracer.Start(ctx, fmt.Sprintf("%s %s", operation, tableName), opts...)
		db.Statement.Context = context.WithValue(newCtx, spanContextKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(spanContextKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))

		switch {
		case db.Error == nil:
			span.SetStatus(codes.Ok, "")
		case db.Error == gorm.ErrRecordNotFound:
			// 未找到记录属于正常业务分支
			span.SetAttributes(attribute.String("error.type", "record_not_found"))
			span.SetStatus(codes.Ok, "record not found")
		default:
			tracing.RecordError(span, db.Error, tracing.ErrorTypeDB)
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName, driver string) *GormTracingPlugin {
	system := semconv.DBSystemMySQL
	switch driver {
	case "postgres":
		system = semconv.DBSystemPostgreSQL
	case "sqlite":
		system = semconv.DBSystemSqlite
	}
	return &GormTracingPlugin{
		tracer:         dbTracer,
		dbName:         dbName,
		dbSystem:       system,
		disableErrSkip: true,
	}
}

// Database 关系数据库连接
type Database struct {
	db  *gorm.DB
	cfg *config.DatabaseConfig
}

// NewDatabase 按配置的驱动打开数据库、注册追踪插件并自动迁移表结构
func NewDatabase(cfg *config.DatabaseConfig) (*Database, error) {
	if cfg == nil {
		return nil, fmt.Errorf("数据库配置不能为空")
	}

	dialector, err := openDialector(cfg)
	if err != nil {
		return nil, err
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败(%s): %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// SQLite 只允许单写连接
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)
	}

	d := &Database{db: db, cfg: cfg}

	if err := db.Use(NewGormTracingPlugin(cfg.Database, cfg.Driver)); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := d.autoMigrateSchema(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	logger.Info().Str("driver", cfg.Driver).Str("database", cfg.Database).Msg("成功连接数据库并完成结构迁移")
	return d, nil
}

func openDialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
			cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
			cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)
		return mysql.Open(dsn), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC connect_timeout=%d",
			cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port, cfg.ConnectTimeoutSeconds)
		return postgres.Open(dsn), nil
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "file::memory:?cache=shared"
		}
		return sqlite.Open(path), nil
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}
}

func gormLogLevel(level int) gormlogger.LogLevel {
	switch level {
	case 1:
		return gormlogger.Silent
	case 2:
		return gormlogger.Error
	case 3:
		return gormlogger.Warn
	case 4:
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// autoMigrateSchema 以静默日志执行 AutoMigrate
func (d *Database) autoMigrateSchema() error {
	silentLogger := gormlogger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Silent,
			IgnoreRecordNotFoundError: true,
		},
	)

	if err := d.db.Session(&gorm.Session{Logger: silentLogger}).AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Driver 返回驱动名
func (d *Database) Driver() string {
	return d.cfg.Driver
}

// Ping 检查数据库连通性
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}
