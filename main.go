package main

import (
	"github.com/databacker/mysql-s3-backup/cmd"
)

func main() {
	cmd.Execute()
}
