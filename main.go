/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/sampleapp/apiserver/cmd"

func main() {
	cmd.Execute()
}
