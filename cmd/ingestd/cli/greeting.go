package cli

import (
	"fmt"
	"net/http"
)

var greeting string

func PrepareGreeting() {
	greeting = fmt.Sprintf(
		`ingestd
=======

This is the root of an ingestd server. Resumable uploads are accepted
at the %s route using the tus protocol (v1.0.0).

Version = %s
GitCommit = %s
BuildDate = %s
`, Flags.Basepath, VersionName, GitCommit, BuildDate)
}

func DisplayGreeting(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(greeting))
}
