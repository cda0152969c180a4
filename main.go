package main

import "github.com/ValentinKolb/cKV/cmd"

func main() {
	cmd.Execute()
}
