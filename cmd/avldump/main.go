// avldump 离线解码 AVL 报文（十六进制或二进制），输出 JSON/YAML/TOML
package main

import (
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
