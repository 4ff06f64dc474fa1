package mysql

import (
	"net"
	"strconv"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// Config 定義 MySQL 連線與連線池的配置
type Config struct {
	// URL 完整的 DSN，設定後忽略下方的個別欄位
	URL string `yaml:"url"`

	// 資料庫主機地址與埠號 (預設 3306)
	Host string `yaml:"host" validate:"required_without=URL"`
	Port int    `yaml:"port" validate:"omitempty,min=1,max=65535"`

	User     string `yaml:"user" validate:"required_without=URL"`
	Password string `yaml:"password"`
	DBName   string `yaml:"db_name" validate:"required_without=URL"`

	// 連線池設定 (Connection Pool)
	// 參考: https://github.com/go-sql-driver/mysql#important-settings
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"min=0"`    // 最大開啟連線數
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"min=0"`    // 最大閒置連線數
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"min=0"` // 連線最大存活時間

	// 連線重試
	ConnectRetries int           `yaml:"connect_retries" validate:"min=0"`
	RetryInterval  time.Duration `yaml:"retry_interval" validate:"min=0"`

	// GORM 設定
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=silent error warn info"` // Log 等級
}

// DSN (Data Source Name) 產生連線字串
// 格式: user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=true&loc=UTC
func (c *Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	port := c.Port
	if port == 0 {
		port = 3306
	}
	dc := mysqldriver.NewConfig()
	dc.User = c.User
	dc.Passwd = c.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(port))
	dc.DBName = c.DBName
	dc.ParseTime = true
	dc.Loc = time.UTC
	dc.Params = map[string]string{"charset": "utf8mb4"}
	return dc.FormatDSN()
}
