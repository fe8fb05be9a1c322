package main

import (
	"github.com/thingful/iotstevens/pkg/tasks"
)

func main() {
	tasks.Execute()
}
