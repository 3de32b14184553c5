package common

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/go-sql-driver/mysql"
)

var (
	mysqlUser     = flag.String("mysql_user", "whispr", "MySQL user.")
	mysqlPassword = flag.String("mysql_password", "secret", "MySQL password.")
	mysqlHost     = flag.String("mysql_host", "localhost", "MySQL host.")
	mysqlPort     = flag.String("mysql_port", "3306", "MySQL port.")
	mysqlDb       = flag.String("mysql_db", "whispr", "MySQL database to use.")
)

func mysqlConfig() *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = *mysqlUser
	cfg.Passwd = *mysqlPassword
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%s", *mysqlHost, *mysqlPort)
	cfg.DBName = *mysqlDb
	cfg.ParseTime = true
	return cfg
}

// DBConnect opens the pool and waits for the server to answer a ping,
// backing off up to WHISPR_DB_PING_MAX_WAIT_SEC.
func DBConnect() (*sql.DB, error) {
	cfg := mysqlConfig()
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		log.Errorf("Failed to connect to the database: %v", err)
		return nil, err
	}

	maxOpen := envInt([]string{"WHISPR_DB_MAX_OPEN_CONNS", "DB_MAX_OPEN_CONNS"}, 25)
	maxIdle := envInt([]string{"WHISPR_DB_MAX_IDLE_CONNS", "DB_MAX_IDLE_CONNS"}, 10)
	connMaxLifetimeMin := envInt([]string{"WHISPR_DB_CONN_MAX_LIFETIME_MIN", "DB_CONN_MAX_LIFETIME_MIN"}, 5)
	pingMaxWaitSec := envInt([]string{"WHISPR_DB_PING_MAX_WAIT_SEC", "DB_PING_MAX_WAIT_SEC"}, 60)

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(time.Duration(connMaxLifetimeMin) * time.Minute)

	deadline := time.Now().Add(time.Duration(pingMaxWaitSec) * time.Second)
	wait := time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		pingErr := db.PingContext(ctx)
		cancel()
		if pingErr == nil {
			break
		}
		if time.Now().After(deadline) {
			db.Close()
			return nil, fmt.Errorf("database ping timeout after %ds: %w", pingMaxWaitSec, pingErr)
		}
		log.Warnf("Database %s not reachable, retrying in %v: %v", cfg.Addr, wait, pingErr)
		time.Sleep(wait)
		wait *= 2
		if wait > 30*time.Second {
			wait = 30 * time.Second
		}
	}

	log.Infof("Established db connection pool to %s/%s: open=%d idle=%d max_lifetime_min=%d",
		cfg.Addr, cfg.DBName, maxOpen, maxIdle, connMaxLifetimeMin)
	return db, nil
}

// envInt returns the first positive integer found under keys.
func envInt(keys []string, defaultValue int) int {
	for _, key := range keys {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
