package test

import (
	"os"
	"path/filepath"
	"testing"
)

const (
	integrationTestEnvVar = "TEST_INTEGRATION"
)

func IsIntegration() bool {
	val, isIntegration := os.LookupEnv(integrationTestEnvVar)
	return isIntegration && val != "false" && val != ""
}

func CheckSkipIntegration(t *testing.T, name string) {
	if !IsIntegration() {
		t.Skipf("Skipping integration test %s, set %s to run", name, integrationTestEnvVar)
	}
}

// fakeMysqldump writes a shell script that behaves like mysqldump: it dumps the
// database named by its last argument, and fails the way mysqldump does for
// the databases in unknown.
func fakeMysqldump(t *testing.T, unknown ...string) string {
	t.Helper()
	script := "#!/bin/sh\nfor last; do :; done\n"
	for _, u := range unknown {
		script += "if [ \"$last\" = \"" + u + "\" ]; then echo \"mysqldump: Got error: 1049: Unknown database '$last' when selecting the database\" >&2; exit 2; fi\n"
	}
	script += `echo "-- MySQL dump of $last"
i=0
while [ $i -lt 500 ]; do
  echo "INSERT INTO ` + "`t`" + ` VALUES ($i,'row $i');"
  i=$((i+1))
done
`
	path := filepath.Join(t.TempDir(), "mysqldump")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}
