// Command selfheal runs UI test plans with self-healing target resolution.
package main

import "github.com/devicelab-dev/selfheal/pkg/cli"

func main() {
	cli.Execute()
}
