package sensorthings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nlstn/go-sensorthings/internal/config"
	"github.com/nlstn/go-sensorthings/internal/messagebus"
	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/sqlstore/migrations"
	"github.com/nlstn/go-sensorthings/internal/workers"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDatabase opens the database selected by cfg and applies the pool
// settings. SQLite keeps a single connection, since foreign key enforcement
// is a per-connection setting there.
func OpenDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Dialect) {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", cfg.Dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if strings.ToLower(cfg.Dialect) == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// Open builds a complete service from settings: it opens and migrates the
// database, configures logging and, when enabled, connects the MQTT bus.
// version is reported in log records.
func Open(ctx context.Context, settings *config.Settings, version string) (*Service, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	logger := config.NewLogger(settings.Logging, version)

	db, err := OpenDatabase(settings.Database)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if settings.Database.AutoMigrate {
		if err := migrations.Apply(ctx, sqlDB, strings.ToLower(settings.Database.Dialect)); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	kind, err := model.ParseIDKind(settings.IDKind)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	s, err := NewService(db, ServiceConfig{
		ServiceRoot:             settings.ServiceRoot(),
		DefaultTop:              settings.DefaultTop,
		MaxTop:                  settings.MaxTop,
		DefaultCount:            settings.DefaultCount,
		MaxExpandDepth:          settings.MaxExpandDepth,
		MaxDataSize:             settings.MaxDataSize,
		CustomLinks:             settings.CustomLinks.Enabled,
		CustomLinkDepth:         settings.CustomLinks.RecurseDepth,
		RelativeNavigationLinks: settings.RelativeNavigationLinks,
		StrictDeserialization:   settings.StrictDeserialization,
		IDKind:                  kind,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	s.closeDB = sqlDB.Close
	if err := s.SetLogger(logger); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}

	if settings.MQTT.Enabled {
		bus, err := messagebus.ConnectMQTT(messagebus.MQTTOptions{
			Broker:      settings.MQTT.Broker,
			ClientID:    settings.MQTT.ClientID,
			Username:    settings.MQTT.Username,
			Password:    settings.MQTT.Password,
			QoS:         byte(settings.MQTT.QoS),
			TopicPrefix: settings.MQTT.TopicPrefix,
			Workers: workers.Options{
				Workers:   settings.MQTT.Workers,
				QueueSize: settings.MQTT.QueueSize,
			},
		}, s.EncodeMessage)
		if err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		bus.SetLogger(logger.With("component", "mqtt"))
		s.SetMessageBus(bus)
	}

	logger.Info("SensorThings service opened",
		slog.String("service_root", settings.ServiceRoot()),
		slog.String("dialect", settings.Database.Dialect),
		slog.Bool("mqtt", settings.MQTT.Enabled),
	)
	return s, nil
}

// EnableInternalBus installs and returns an in-process bus. Listeners
// subscribed to it receive every published change message.
func (s *Service) EnableInternalBus(opts workers.Options) *messagebus.InternalBus {
	bus := messagebus.NewInternalBus(opts)
	bus.SetLogger(s.logger.With("component", "bus"))
	s.SetMessageBus(bus)
	return bus
}
