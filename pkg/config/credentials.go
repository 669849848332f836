package config

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"

	"github.com/databacker/mysql-s3-backup/pkg/storage/credentials"
)

// Credentials are the secrets read from the credentials file. The file uses the
// MySQL option file format so it can also be handed to mysqldump directly:
//
//	[client]
//	user = backup
//	password = secret
//
//	[aws]
//	aws_access_key_id = AKIA...
//	aws_secret_access_key = ...
type Credentials struct {
	User     string
	Password string
	AWS      credentials.AWSCreds
}

// LoadCredentials reads the credentials file at path. The file must exist and
// must not be readable or writable by group or others.
func LoadCredentials(path string) (Credentials, error) {
	var creds Credentials
	info, err := os.Stat(path)
	if err != nil {
		return creds, fmt.Errorf("credentials file unavailable: %w", err)
	}
	if info.IsDir() {
		return creds, fmt.Errorf("credentials file %s is a directory", path)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return creds, fmt.Errorf("credentials file %s has mode %04o, must not be accessible by group or others", path, perm)
	}
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:    true,
		IgnoreInlineComment: true,
		Insensitive:         true,
	}, path)
	if err != nil {
		return creds, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}
	client := f.Section("client")
	creds.User = client.Key("user").String()
	creds.Password = client.Key("password").String()
	if creds.User == "" {
		return creds, fmt.Errorf("credentials file %s has no user in [client]", path)
	}
	aws := f.Section("aws")
	creds.AWS.AccessKeyID = aws.Key("aws_access_key_id").String()
	creds.AWS.SecretAccessKey = aws.Key("aws_secret_access_key").String()
	return creds, nil
}
