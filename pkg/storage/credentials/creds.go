package credentials

type Creds struct {
	AWS AWSCreds
}

type AWSCreds struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string
	PathStyle       bool
}
