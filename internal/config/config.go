package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys double as flag names; the environment variable is the upper-cased key
// with dashes turned into underscores.
const (
	Port             = "port"
	AllowedOrigins   = "allowed-origins"
	TLSCert          = "tls-cert"
	TLSKey           = "tls-key"
	DataFile         = "data-file"
	ScientificField  = "scientific-field"
	ImageWidth       = "image-width"
	ImageMaxFiles    = "image-max-files"
	ImageConcurrency = "image-concurrency"
	ImageTimeout     = "image-timeout"
	PlaceholderURL   = "placeholder-url"
	ShowImages       = "show-images"
	UserAgent        = "user-agent"
	WikidataAPI      = "wikidata-api"
	CommonsAPI       = "commons-api"
	WikipediaURL     = "wikipedia-url"
	HintTTL          = "hint-ttl"
	RateLimit        = "rate-limit"
	LogLevel         = "log-level"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault(Port, "8080")
	v.SetDefault(AllowedOrigins, "http://localhost:5173,https://localhost:5173")
	v.SetDefault(TLSCert, "")
	v.SetDefault(TLSKey, "")

	// Species table; .json, .csv or .xlsx
	v.SetDefault(DataFile, "species.json")
	v.SetDefault(ScientificField, "Scientific Name")

	v.SetDefault(ImageWidth, 640)
	v.SetDefault(ImageMaxFiles, 12)
	v.SetDefault(ImageConcurrency, 4)
	v.SetDefault(ImageTimeout, 15*time.Second)
	v.SetDefault(PlaceholderURL, "https://upload.wikimedia.org/wikipedia/commons/placeholder.png")
	v.SetDefault(ShowImages, true)

	v.SetDefault(UserAgent, "Species-Quiz-Bot/1.0 (+https://example.org)")
	v.SetDefault(WikidataAPI, "https://www.wikidata.org/w/api.php")
	v.SetDefault(CommonsAPI, "https://commons.wikimedia.org/w/api.php")
	v.SetDefault(WikipediaURL, "https://en.wikipedia.org/wiki/")
	v.SetDefault(HintTTL, 6*time.Hour)

	// Requests per client IP per minute
	v.SetDefault(RateLimit, 60)
	v.SetDefault(LogLevel, "info")
}

// New returns a viper instance with defaults set and environment lookup
// enabled.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDotEnv reads path into the process environment. A missing file is not
// an error; variables already set win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// BindFlags registers one flag per key on fs and binds them into v, so a flag
// given on the command line overrides the environment.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String(Port, v.GetString(Port), "port to listen on")
	fs.String(DataFile, v.GetString(DataFile), "species data file (.json, .csv or .xlsx)")
	fs.String(ScientificField, v.GetString(ScientificField), "field holding the scientific name")
	fs.Bool(ShowImages, v.GetBool(ShowImages), "look up species images")
	fs.String(LogLevel, v.GetString(LogLevel), "log level (debug, info, warn, error)")
	return v.BindPFlags(fs)
}

type Config struct {
	Port            string
	AllowedOrigins  []string
	TLSCert         string
	TLSKey          string
	DataFile        string
	ScientificField string

	ImageWidth       int
	ImageMaxFiles    int
	ImageConcurrency int
	ImageTimeout     time.Duration
	PlaceholderURL   string
	ShowImages       bool

	UserAgent    string
	WikidataAPI  string
	CommonsAPI   string
	WikipediaURL string
	HintTTL      time.Duration

	RateLimit int
	LogLevel  string
}

func Load(v *viper.Viper) Config {
	return Config{
		Port:             v.GetString(Port),
		AllowedOrigins:   splitList(v.GetString(AllowedOrigins)),
		TLSCert:          v.GetString(TLSCert),
		TLSKey:           v.GetString(TLSKey),
		DataFile:         v.GetString(DataFile),
		ScientificField:  v.GetString(ScientificField),
		ImageWidth:       v.GetInt(ImageWidth),
		ImageMaxFiles:    v.GetInt(ImageMaxFiles),
		ImageConcurrency: v.GetInt(ImageConcurrency),
		ImageTimeout:     v.GetDuration(ImageTimeout),
		PlaceholderURL:   v.GetString(PlaceholderURL),
		ShowImages:       v.GetBool(ShowImages),
		UserAgent:        v.GetString(UserAgent),
		WikidataAPI:      v.GetString(WikidataAPI),
		CommonsAPI:       v.GetString(CommonsAPI),
		WikipediaURL:     v.GetString(WikipediaURL),
		HintTTL:          v.GetDuration(HintTTL),
		RateLimit:        v.GetInt(RateLimit),
		LogLevel:         v.GetString(LogLevel),
	}
}

func splitList(s string) []string {
	var out []string
	for _, tok := range strings.Split(s, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
