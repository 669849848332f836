package storage

import (
	"fmt"

	"github.com/databacker/mysql-s3-backup/pkg/storage/credentials"
	"github.com/databacker/mysql-s3-backup/pkg/storage/file"
	"github.com/databacker/mysql-s3-backup/pkg/storage/s3"
	"github.com/databacker/mysql-s3-backup/pkg/util"
)

func ParseURL(url string, creds credentials.Creds) (Storage, error) {
	u, err := util.SmartParse(url)
	if err != nil {
		return nil, fmt.Errorf("invalid target url: %v", err)
	}

	var store Storage
	switch u.Scheme {
	case "file":
		store = file.New(*u)
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("s3 url %s has no bucket", url)
		}
		opts := []s3.Option{}
		if creds.AWS.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(creds.AWS.Endpoint))
		}
		if creds.AWS.Region != "" {
			opts = append(opts, s3.WithRegion(creds.AWS.Region))
		}
		if creds.AWS.AccessKeyID != "" {
			opts = append(opts, s3.WithAccessKeyId(creds.AWS.AccessKeyID))
		}
		if creds.AWS.SecretAccessKey != "" {
			opts = append(opts, s3.WithSecretAccessKey(creds.AWS.SecretAccessKey))
		}
		if creds.AWS.PathStyle {
			opts = append(opts, s3.WithPathStyle())
		}
		store = s3.New(*u, opts...)
	default:
		return nil, fmt.Errorf("unknown url protocol: %s", u.Scheme)
	}
	return store, nil
}
