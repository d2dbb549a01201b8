package main

import "github.com/hiennguyen9874/api-base-project/cmd"

func main() {
	cmd.Execute()
}
