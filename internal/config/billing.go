package config

import (
	"os"
	"strconv"
	"time"
)

type BillingConfig struct {
	Currency          string
	InvoicePrefix     string
	InvoiceSeqPad     int
	DefaultDueDays    int
	DocumentDir       string
	SchedulerInterval time.Duration
}

func LoadBillingConfig() *BillingConfig {
	return &BillingConfig{
		Currency:          getEnv("BILLING_CURRENCY", "GBP"),
		InvoicePrefix:     getEnv("INVOICE_PREFIX", "INV"),
		InvoiceSeqPad:     getEnvAsInt("INVOICE_SEQ_PAD", 4),
		DefaultDueDays:    getEnvAsInt("INVOICE_DUE_DAYS", 14),
		DocumentDir:       getEnv("INVOICE_DOCUMENT_DIR", "./documents/invoices"),
		SchedulerInterval: getEnvAsDuration("BILLING_SCHEDULER_INTERVAL", 1*time.Hour),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
