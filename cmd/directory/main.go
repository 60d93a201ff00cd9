// Command directory はコミュニティディレクトリのローカルAPIサーバーとワーカーを起動する。
package main

import (
	"fmt"
	"os"

	"github.com/kouame09/225-OS-sub000/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
