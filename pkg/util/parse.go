package util

import (
	"fmt"
	"net/url"
	"strings"
)

// SmartParse parses a destination url, treating a bare absolute path as "file://".
func SmartParse(raw string) (*url.URL, error) {
	if strings.HasPrefix(raw, "/") {
		raw = "file://" + raw
	}
	return url.Parse(raw)
}

// BucketURL builds the s3 destination url for a bucket and key prefix.
func BucketURL(bucket, prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("s3://%s", bucket)
	}
	return fmt.Sprintf("s3://%s/%s", bucket, prefix)
}
