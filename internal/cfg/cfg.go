package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jimlawless/whereami"

	"github.com/lookalike-tech/go-backend/pkg/e"
	"github.com/lookalike-tech/go-backend/pkg/logger"
)

// Бэкенды векторного поиска
const (
	SearchBackendPgvector = "pgvector"
	SearchBackendQdrant   = "qdrant"
)

// Бэкенды журнала прогресса
const (
	LedgerBackendPgdb = "pgdb"
	LedgerBackendFile = "file"
)

type Config struct {
	Minio    *MinIOCfg
	Http     *HTTPConfig
	Db       *PGDBCfg
	Qdrant   *QdrantCfg
	Redis    *RedisCfg
	Embedder *EmbedderCfg
	Kafka    *KafkaCfg
	Staging  *StagingCfg
	Batch    *BatchCfg
	Search   *SearchCfg
	Ledger   *LedgerCfg
}

type KafkaCfg struct {
	Topic             string
	Brokers           []string
	NetworkMode       string
	Partitions        int
	ReplicationFactor int
}

type MinIOCfg struct {
	MinioEndpoint     string // Адрес конечной точки Minio
	BucketName        string // Бакет для временных staged-изображений
	MinioRootUser     string // Имя пользователя для доступа к Minio
	MinioRootPassword string // Пароль для доступа к Minio
	MinioUseSSL       bool
}

type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PGDBCfg struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type QdrantCfg struct {
	Port           int
	Host           string
	ApiKey         string
	CollectionName string // имя коллекции в Qdrant
	UseTLS         bool
}

type RedisCfg struct {
	Addr        string
	Password    string
	User        string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
	CardTTL     time.Duration // TTL кэша карточек товаров
}

// EmbedderCfg — внешний inference-сервис эмбеддингов изображений.
type EmbedderCfg struct {
	Endpoint   string
	ApiKey     string
	Model      string
	VectorSize int           // размерность D, валидируется на каждом ответе
	Timeout    time.Duration // таймаут одного вызова
	MaxRetries int
	RatePerSec float64 // лимит запросов к сервису
	RateBurst  int
}

// StagingCfg — скачивание исходных изображений и их временный re-hosting.
type StagingCfg struct {
	DownloadTimeout time.Duration
	MinImageBytes   int64 // тело меньше этого размера считается битым ответом
	UserAgent       string
	Referer         string
	PresignExpiry   time.Duration // срок жизни публичной ссылки на staged-объект
}

// BatchCfg — параметры batch-прогона эмбеддингов.
type BatchCfg struct {
	Concurrency int // размер пула воркеров
	Limit       int // максимум товаров за прогон, 0 — без ограничения
	FlushEvery  int // сброс журнала прогресса каждые N завершённых элементов
}

type SearchCfg struct {
	Backend          string  // pgvector | qdrant
	DefaultThreshold float64 // порог cosine-сходства
	DefaultLimit     int     // максимум результатов
}

type LedgerCfg struct {
	Backend  string // pgdb | file
	FilePath string // путь к файлу журнала для backend=file
}

// Load безопасно загружает конфигурацию и возвращает ошибку в случае неудачи.
func Load(log logger.Logger) (*Config, error) {
	db, err := loadPGDBCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	http, err := loadHTTPConfig(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	redis, err := loadRedisCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	minio, err := loadMinIOCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	search, err := loadSearchCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	var qdrant *QdrantCfg
	if search.Backend == SearchBackendQdrant {
		qdrant, err = loadQdrantCfg(log)
		if err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}
	}

	kafka, err := loadKafkaCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	embedder, err := loadEmbedderCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	staging, err := loadStagingCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	batch, err := loadBatchCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	ledger, err := loadLedgerCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return &Config{
		Minio:    minio,
		Http:     http,
		Db:       db,
		Qdrant:   qdrant,
		Redis:    redis,
		Embedder: embedder,
		Kafka:    kafka,
		Staging:  staging,
		Batch:    batch,
		Search:   search,
		Ledger:   ledger,
	}, nil
}

func loadKafkaCfg() (*KafkaCfg, error) {
	const (
		defaultPartitions        = 3
		defaultReplicationFactor = 1
		defaultNetworkMode       = "tcp"
	)

	brokerStr := os.Getenv("KAFKA_BROKERS")
	if brokerStr == "" {
		return nil, fmt.Errorf("KAFKA_BROKERS environment variable is required")
	}
	brokers := strings.Split(brokerStr, ",")

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		return nil, fmt.Errorf("KAFKA_TOPIC environment variable is required")
	}

	partitions, err := parseIntEnv("KAFKA_PARTITIONS", defaultPartitions)
	if err != nil {
		return nil, e.Wrap("KAFKA_PARTITIONS", err)
	}

	replicationFactor, err := parseIntEnv("REPLICATION_FACTOR", defaultReplicationFactor)
	if err != nil {
		return nil, e.Wrap("REPLICATION_FACTOR", err)
	}

	networkMode := getEnvOrDefault("KAFKA_NETWORK_MODE", defaultNetworkMode)

	return &KafkaCfg{
		Brokers:           brokers,
		Topic:             topic,
		Partitions:        partitions,
		ReplicationFactor: replicationFactor,
		NetworkMode:       networkMode,
	}, nil
}

func loadMinIOCfg(log logger.Logger) (*MinIOCfg, error) {
	const (
		defaultUseSSL   = false
		defaultEndpoint = "minio:9000"
	)

	useSSL, err := strconv.ParseBool(getEnvOrDefault("MINIO_USE_SSL", strconv.FormatBool(defaultUseSSL)))
	if err != nil {
		log.Errorf(err, "invalid MINIO_USE_SSL")
		return nil, err
	}

	return &MinIOCfg{
		MinioEndpoint:     getEnvOrDefault("MINIO_ENDPOINT", defaultEndpoint),
		BucketName:        getEnv("BUCKET_NAME"),
		MinioRootUser:     getEnv("MINIO_ROOT_USER"),
		MinioRootPassword: getEnv("MINIO_ROOT_PASSWORD"),
		MinioUseSSL:       useSSL,
	}, nil
}

func loadHTTPConfig(log logger.Logger) (*HTTPConfig, error) {
	const (
		defaultPort         = "8080"
		defaultReadTimeout  = 5 * time.Second
		defaultWriteTimeout = 10 * time.Second
		defaultIdleTimeout  = 60 * time.Second
	)

	port := getEnvOrDefault("HTTP_PORT", defaultPort)

	readTimeout, err := parseDurationEnv("HTTP_READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_READ_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("HTTP_WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_WRITE_TIMEOUT")
		return nil, err
	}

	idleTimeout, err := parseDurationEnv("KEEP_ALIVE", defaultIdleTimeout)
	if err != nil {
		log.Errorf(err, "invalid KEEP_ALIVE")
		return nil, err
	}

	return &HTTPConfig{
		Port:         port,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}, nil
}

func loadPGDBCfg(log logger.Logger) (*PGDBCfg, error) {
	const (
		defaultHost    = "localhost"
		defaultPort    = "5432"
		defaultSSLMode = "disable"
	)

	user := getEnv("POSTGRES_USER")
	if user == "" {
		err := fmt.Errorf("POSTGRES_USER is required")
		log.Errorf(err, "missing POSTGRES_USER")
		return nil, err
	}

	password := getEnv("POSTGRES_PASSWORD")
	if password == "" {
		err := fmt.Errorf("POSTGRES_PASSWORD is required")
		log.Errorf(err, "missing POSTGRES_PASSWORD")
		return nil, err
	}

	dbName := getEnv("POSTGRES_DB")
	if dbName == "" {
		err := fmt.Errorf("POSTGRES_DB is required")
		log.Errorf(err, "missing POSTGRES_DB")
		return nil, err
	}

	return &PGDBCfg{
		Host:     getEnvOrDefault("POSTGRES_HOST", defaultHost),
		Port:     getEnvOrDefault("POSTGRES_PORT", defaultPort),
		User:     user,
		Password: password,
		DBName:   dbName,
		SSLMode:  getEnvOrDefault("SSL_MODE", defaultSSLMode),
	}, nil
}

func loadQdrantCfg(logger logger.Logger) (*QdrantCfg, error) {
	const (
		defaultQdrantGRPCPort = "6334"
		defaultUseTLS         = false
	)

	strPort := getEnvOrDefault("QDRANT_GRPC_PORT", defaultQdrantGRPCPort)
	port, err := strconv.Atoi(strPort)
	if err != nil {
		logger.Errorf(err, "invalid QDRANT_GRPC_PORT")
		return nil, err
	}

	useTLS, err := strconv.ParseBool(getEnvOrDefault("QDRANT_USE_TLS", strconv.FormatBool(defaultUseTLS)))
	if err != nil {
		logger.Errorf(err, "invalid QDRANT_USE_TLS")
		return nil, err
	}

	return &QdrantCfg{
		Host:           getEnv("QDRANT_HOST"),
		Port:           port,
		ApiKey:         getEnv("QDRANT__SERVICE__API_KEY"),
		CollectionName: getEnv("COLLECTION_NAME"),
		UseTLS:         useTLS,
	}, nil
}

func loadRedisCfg(log logger.Logger) (*RedisCfg, error) {
	const (
		defaultAddr         = "localhost:6379"
		defaultDB           = 0
		defaultMaxRetries   = 3
		defaultDialTimeout  = 5 * time.Second
		defaultReadTimeout  = 3 * time.Second
		defaultWriteTimeout = 3 * time.Second
		defaultCardTTL      = 3 * time.Minute
	)

	addr := getEnvOrDefault("REDIS_ADDR", defaultAddr)
	password := getEnv("REDIS_PASSWORD")
	user := getEnv("REDIS_USER")

	db, err := parseIntEnv("REDIS_DB_ID", defaultDB)
	if err != nil {
		log.Errorf(err, "invalid REDIS_DB_ID")
		return nil, err
	}

	maxRetries, err := parseIntEnv("MAX_RETRIES", defaultMaxRetries)
	if err != nil {
		log.Errorf(err, "invalid MAX_RETRIES")
		return nil, err
	}

	dialTimeout, err := parseDurationEnv("DIAL_TIMEOUT", defaultDialTimeout)
	if err != nil {
		log.Errorf(err, "invalid DIAL_TIMEOUT")
		return nil, err
	}

	readTimeout, err := parseDurationEnv("READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid READ_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid WRITE_TIMEOUT")
		return nil, err
	}

	cardTTL, err := parseDurationEnv("CARD_TTL", defaultCardTTL)
	if err != nil {
		log.Errorf(err, "invalid CARD_TTL")
		return nil, err
	}

	timeout := readTimeout
	if writeTimeout > timeout {
		timeout = writeTimeout
	}

	return &RedisCfg{
		Addr:        addr,
		Password:    password,
		User:        user,
		DB:          db,
		MaxRetries:  maxRetries,
		DialTimeout: dialTimeout,
		Timeout:     timeout,
		CardTTL:     cardTTL,
	}, nil
}

func loadEmbedderCfg(log logger.Logger) (*EmbedderCfg, error) {
	const (
		defaultModel      = "clip-vit-l-14"
		defaultVectorSize = 768
		defaultTimeout    = 60 * time.Second
		defaultMaxRetries = 3
		defaultRatePerSec = 5.0
		defaultRateBurst  = 5
	)

	endpoint := getEnv("EMBEDDER_ENDPOINT")
	if endpoint == "" {
		return nil, fmt.Errorf("EMBEDDER_ENDPOINT environment variable is required")
	}

	vectorSize, err := parseIntEnv("VECTOR_SIZE", defaultVectorSize)
	if err != nil {
		log.Errorf(err, "invalid VECTOR_SIZE")
		return nil, err
	}

	timeout, err := parseDurationEnv("EMBEDDER_TIMEOUT", defaultTimeout)
	if err != nil {
		log.Errorf(err, "invalid EMBEDDER_TIMEOUT")
		return nil, err
	}

	maxRetries, err := parseIntEnv("EMBEDDER_MAX_RETRIES", defaultMaxRetries)
	if err != nil {
		log.Errorf(err, "invalid EMBEDDER_MAX_RETRIES")
		return nil, err
	}

	ratePerSec, err := parseFloatEnv("EMBEDDER_RATE_PER_SEC", defaultRatePerSec)
	if err != nil {
		log.Errorf(err, "invalid EMBEDDER_RATE_PER_SEC")
		return nil, err
	}

	rateBurst, err := parseIntEnv("EMBEDDER_RATE_BURST", defaultRateBurst)
	if err != nil {
		log.Errorf(err, "invalid EMBEDDER_RATE_BURST")
		return nil, err
	}

	return &EmbedderCfg{
		Endpoint:   strings.TrimRight(endpoint, "/"),
		ApiKey:     getEnv("EMBEDDER_API_KEY"),
		Model:      getEnvOrDefault("EMBEDDER_MODEL", defaultModel),
		VectorSize: vectorSize,
		Timeout:    timeout,
		MaxRetries: maxRetries,
		RatePerSec: ratePerSec,
		RateBurst:  rateBurst,
	}, nil
}

func loadStagingCfg(log logger.Logger) (*StagingCfg, error) {
	const (
		defaultDownloadTimeout = 30 * time.Second
		defaultMinImageBytes   = 5 * 1024
		defaultUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
		defaultPresignExpiry   = 15 * time.Minute
	)

	downloadTimeout, err := parseDurationEnv("STAGING_DOWNLOAD_TIMEOUT", defaultDownloadTimeout)
	if err != nil {
		log.Errorf(err, "invalid STAGING_DOWNLOAD_TIMEOUT")
		return nil, err
	}

	minImageBytes, err := parseIntEnv("STAGING_MIN_IMAGE_BYTES", defaultMinImageBytes)
	if err != nil {
		log.Errorf(err, "invalid STAGING_MIN_IMAGE_BYTES")
		return nil, err
	}

	presignExpiry, err := parseDurationEnv("STAGING_PRESIGN_EXPIRY", defaultPresignExpiry)
	if err != nil {
		log.Errorf(err, "invalid STAGING_PRESIGN_EXPIRY")
		return nil, err
	}

	return &StagingCfg{
		DownloadTimeout: downloadTimeout,
		MinImageBytes:   int64(minImageBytes),
		UserAgent:       getEnvOrDefault("STAGING_USER_AGENT", defaultUserAgent),
		Referer:         getEnv("STAGING_REFERER"),
		PresignExpiry:   presignExpiry,
	}, nil
}

func loadBatchCfg() (*BatchCfg, error) {
	const (
		defaultConcurrency = 4
		defaultLimit       = 0
		defaultFlushEvery  = 25
	)

	concurrency, err := parseIntEnv("BATCH_CONCURRENCY", defaultConcurrency)
	if err != nil {
		return nil, e.Wrap("BATCH_CONCURRENCY", err)
	}

	limit, err := parseIntEnv("BATCH_LIMIT", defaultLimit)
	if err != nil {
		return nil, e.Wrap("BATCH_LIMIT", err)
	}

	flushEvery, err := parseIntEnv("BATCH_FLUSH_EVERY", defaultFlushEvery)
	if err != nil {
		return nil, e.Wrap("BATCH_FLUSH_EVERY", err)
	}

	return &BatchCfg{
		Concurrency: concurrency,
		Limit:       limit,
		FlushEvery:  flushEvery,
	}, nil
}

func loadSearchCfg() (*SearchCfg, error) {
	const (
		defaultBackend   = SearchBackendPgvector
		defaultThreshold = 0.4
		defaultLimit     = 20
	)

	backend := getEnvOrDefault("SEARCH_BACKEND", defaultBackend)
	if backend != SearchBackendPgvector && backend != SearchBackendQdrant {
		return nil, fmt.Errorf("SEARCH_BACKEND must be %q or %q", SearchBackendPgvector, SearchBackendQdrant)
	}

	threshold, err := parseFloatEnv("SEARCH_THRESHOLD", defaultThreshold)
	if err != nil {
		return nil, e.Wrap("SEARCH_THRESHOLD", err)
	}

	limit, err := parseIntEnv("SEARCH_MAX_RESULTS", defaultLimit)
	if err != nil {
		return nil, e.Wrap("SEARCH_MAX_RESULTS", err)
	}

	return &SearchCfg{
		Backend:          backend,
		DefaultThreshold: threshold,
		DefaultLimit:     limit,
	}, nil
}

func loadLedgerCfg() (*LedgerCfg, error) {
	const (
		defaultBackend  = LedgerBackendPgdb
		defaultFilePath = "data/embedding_ledger.json"
	)

	backend := getEnvOrDefault("LEDGER_BACKEND", defaultBackend)
	if backend != LedgerBackendPgdb && backend != LedgerBackendFile {
		return nil, fmt.Errorf("LEDGER_BACKEND must be %q or %q", LedgerBackendPgdb, LedgerBackendFile)
	}

	return &LedgerCfg{
		Backend:  backend,
		FilePath: getEnvOrDefault("LEDGER_FILE_PATH", defaultFilePath),
	}, nil
}

// getEnv возвращает значение переменной окружения.
// Возвращает пустую строку, если переменная не задана.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// parseDurationEnv считывает длительность или возвращает значение по умолчанию.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		return time.ParseDuration(v)
	}

	return defaultValue, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	intValue, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return intValue, nil
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	floatValue, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return floatValue, nil
}
