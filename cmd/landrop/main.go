package main

import (
	"fmt"
	"os"
)

const usage = `usage:
  landrop [serve] [-config file] [-addr host:port] [-uploads dir] [-state dir] [-public dir] [-webdav]
  landrop passwd -p <password> [-state dir] [-cost n]
  landrop client [-server url] <ls|put|get|rm|mkdir|mv|rename|login|logout> ...
`

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = serveCmd(args)
	case "passwd":
		err = passwdCmd(args)
	case "client":
		err = clientCmd(args)
	case "help":
		fmt.Print(usage)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "landrop:", err)
		os.Exit(1)
	}
}
