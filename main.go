/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package main

import "github.com/jessegalley/usbbench/cmd"

func main() {
	cmd.Execute()
}
