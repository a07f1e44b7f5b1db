package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// lookup returns the first key among keys that holds a non-empty value
func lookup(keys ...string) (string, string, bool) {
	for _, key := range keys {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			return key, strings.TrimSpace(v), true
		}
	}
	return "", "", false
}

func envString(dst *string, keys ...string) {
	if _, v, ok := lookup(keys...); ok {
		*dst = v
	}
}

func envList(dst *[]string, keys ...string) {
	if _, v, ok := lookup(keys...); ok {
		var items []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*dst = items
	}
}

func envInt(dst *int, keys ...string) error {
	key, v, ok := lookup(keys...)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envInt64(dst *int64, keys ...string) error {
	key, v, ok := lookup(keys...)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(dst *float64, keys ...string) error {
	key, v, ok := lookup(keys...)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func envFloatPtr(dst **float64, keys ...string) error {
	key, v, ok := lookup(keys...)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = &f
	return nil
}

func envBool(dst *bool, keys ...string) error {
	key, v, ok := lookup(keys...)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func envBoolPtr(dst **bool, keys ...string) error {
	key, v, ok := lookup(keys...)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = &b
	return nil
}

func prefixed(name string) string {
	return EnvPrefix + name
}

// applyEnv overlays environment variables on c
func (c *Config) applyEnv() error {
	if port, ok := os.LookupEnv("PORT"); ok && port != "" {
		c.Server.Addr = ":" + port
	}
	envString(&c.Server.Addr, prefixed("ADDR"))
	envList(&c.Server.AllowedOrigins, prefixed("ALLOWED_ORIGINS"))
	envString(&c.Audio.DumpDir, prefixed("DUMP_DIR"))
	envString(&c.SessionDefaults.Language, prefixed("LANGUAGE"))
	envString(&c.VAD.Engine, prefixed("VAD_ENGINE"))
	envString(&c.VAD.Endpoint, prefixed("VAD_ENDPOINT"))
	envString(&c.VAD.APIKey, prefixed("VAD_API_KEY"))
	envString(&c.ASR.Engine, prefixed("ASR_ENGINE"))
	envString(&c.ASR.Model, prefixed("ASR_MODEL"))
	envString(&c.ASR.DefaultLanguage, prefixed("ASR_DEFAULT_LANGUAGE"))
	envString(&c.ASR.Endpoint, prefixed("ASR_ENDPOINT"))
	envString(&c.ASR.CredentialsFile, prefixed("GOOGLE_CREDENTIALS_FILE"), "GOOGLE_APPLICATION_CREDENTIALS")
	envString(&c.ASR.OpenAIAPIKey, prefixed("OPENAI_API_KEY"), "OPENAI_API_KEY")
	envString(&c.ASR.GeminiAPIKey, prefixed("GEMINI_API_KEY"), "GEMINI_API_KEY", "GOOGLE_API_KEY")
	envString(&c.Archive.Backend, prefixed("ARCHIVE_BACKEND"))
	envString(&c.Archive.SQLitePath, prefixed("SQLITE_PATH"))
	envString(&c.Archive.MongoURI, prefixed("MONGODB_URI"), "MONGODB_URI")
	envString(&c.Archive.MongoDatabase, prefixed("MONGODB_DATABASE"), "MONGODB_DATABASE")
	envString(&c.Auth.JWTSecret, prefixed("JWT_SECRET"), "JWT_SECRET")
	envString(&c.Log.Level, prefixed("LOG_LEVEL"))

	for _, err := range []error{
		envInt64(&c.Server.ReadLimit, prefixed("READ_LIMIT")),
		envInt(&c.Server.SendQueueSize, prefixed("SEND_QUEUE_SIZE")),
		envInt(&c.Audio.SampleRate, prefixed("SAMPLE_RATE")),
		envFloat(&c.SessionDefaults.ChunkLengthSeconds, prefixed("CHUNK_LENGTH_SECONDS")),
		envFloat(&c.SessionDefaults.ChunkOffsetSeconds, prefixed("CHUNK_OFFSET_SECONDS")),
		envBool(&c.SessionDefaults.ErrorIfNotRealtime, prefixed("ERROR_IF_NOT_REALTIME")),
		envFloatPtr(&c.Buffering.ChunkLengthSeconds, prefixed("BUFFERING_CHUNK_LENGTH_SECONDS"), "BUFFERING_CHUNK_LENGTH_SECONDS"),
		envFloatPtr(&c.Buffering.ChunkOffsetSeconds, prefixed("BUFFERING_OFFSET_SECONDS"), "BUFFERING_OFFSET_SECONDS"),
		envBoolPtr(&c.Buffering.ErrorIfNotRealtime, prefixed("BUFFERING_ERROR_IF_NOT_REALTIME"), "ERROR_IF_NOT_REALTIME"),
		envBool(&c.Buffering.TrailingSilenceGate, prefixed("TRAILING_SILENCE_GATE")),
		envFloat(&c.Buffering.MaxBufferSeconds, prefixed("MAX_BUFFER_SECONDS")),
		envFloat(&c.Analysis.Timeout, prefixed("ANALYSIS_TIMEOUT")),
		envInt(&c.Analysis.MaxRetries, prefixed("ANALYSIS_MAX_RETRIES")),
		envInt64(&c.Analysis.MaxConcurrent, prefixed("ANALYSIS_MAX_CONCURRENT")),
		envFloat(&c.VAD.Threshold, prefixed("VAD_THRESHOLD")),
		envFloat(&c.Archive.Retention, prefixed("ARCHIVE_RETENTION_HOURS")),
		envBool(&c.Log.Development, prefixed("LOG_DEVELOPMENT")),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}
