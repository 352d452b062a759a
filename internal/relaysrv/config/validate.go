package config

import (
	"net/url"
	"strconv"

	"github.com/go-playground/validator/v10"
)

var configValidator *validator.Validate

// V returns the package's validator instance.
func V() *validator.Validate {
	if configValidator == nil {
		configValidator = validator.New(validator.WithRequiredStructEnabled())
	}
	return configValidator
}

// portValidator checks that the value is a decimal TCP port.
func portValidator(fl validator.FieldLevel) bool {
	port, err := strconv.Atoi(fl.Field().String())
	if err != nil {
		return false
	}
	return port > 0 && port <= 65535
}

// baseURLValidator checks that the value is an absolute http(s) URL without
// query or fragment, suitable as a prefix for endpoint paths.
func baseURLValidator(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != "" && u.RawQuery == "" && u.Fragment == ""
}

// relDurValidator checks that the value parses with ParseDuration.
func relDurValidator(fl validator.FieldLevel) bool {
	_, err := ParseDuration(fl.Field().String())
	return err == nil
}

func init() {
	V().RegisterValidation("port", portValidator)
	V().RegisterValidation("baseurl", baseURLValidator)
	V().RegisterValidation("reldur", relDurValidator)
}
