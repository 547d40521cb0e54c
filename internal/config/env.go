package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every derived environment variable name
const EnvPrefix = "GATEWAY"

var durationType = reflect.TypeOf(Duration(0))

// LoadEnv overrides scalar configuration fields from environment
// variables. Variable names are derived from the yaml tags, joined
// with underscores and uppercased: rateLimit.max becomes
// GATEWAY_RATELIMIT_MAX. Lists of structs (services, canary versions)
// are file-only.
func LoadEnv(cfg *Config) error {
	return applyEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix)
}

func applyEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + strings.ToUpper(tag)
		fv := v.Field(i)

		if fv.Kind() == reflect.Struct && fv.Type() != durationType {
			if err := applyEnv(fv, key); err != nil {
				return err
			}
			continue
		}
		if fv.Kind() == reflect.Pointer {
			if !fv.IsNil() && fv.Elem().Kind() == reflect.Struct {
				if err := applyEnv(fv.Elem(), key); err != nil {
					return err
				}
			}
			continue
		}
		if fv.Kind() == reflect.Slice && fv.Type().Elem().Kind() != reflect.String {
			continue
		}
		if fv.Kind() == reflect.Map {
			continue
		}

		raw, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err := setField(fv, raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func setField(fv reflect.Value, raw string) error {
	if fv.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	case reflect.Slice:
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		fv.Set(reflect.ValueOf(out))
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}
