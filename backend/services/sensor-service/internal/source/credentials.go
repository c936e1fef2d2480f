package source

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultCredentialsPath is where the API username and password are kept locally.
const DefaultCredentialsPath = "SmartBuildingParameters/SmartBuildingParameters.txt"

var ErrMissingCredentials = errors.New("missing API credentials")

// Credentials authenticate against the source API.
type Credentials struct {
	Username string
	Password string
}

// LoadCredentials reads "key = value" lines; username and password are required.
func LoadCredentials(path string) (Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("open credentials: %w", err)
	}
	defer f.Close()

	params := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		params[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}

	creds := Credentials{Username: params["username"], Password: params["password"]}
	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, fmt.Errorf("%w in %s", ErrMissingCredentials, path)
	}
	return creds, nil
}

// ResolveCredentials prefers explicit values and falls back to the file for whatever is missing.
func ResolveCredentials(username, password, path string) (Credentials, error) {
	if username != "" && password != "" {
		return Credentials{Username: username, Password: password}, nil
	}
	if path == "" {
		return Credentials{}, ErrMissingCredentials
	}
	fromFile, err := LoadCredentials(path)
	if err != nil {
		return Credentials{}, err
	}
	if username != "" {
		fromFile.Username = username
	}
	if password != "" {
		fromFile.Password = password
	}
	return fromFile, nil
}
