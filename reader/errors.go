package reader

import (
	"fmt"
	"strconv"

	"github.com/alpacahq/journald/utils/io"
	"github.com/alpacahq/journald/utils/log"
)

// ReplayError is used when a file of a directory replay fails.
// If Cont:true, the file is skipped and the replay goes on with the next one.
type ReplayError struct {
	Path string
	Msg  string
	Cont bool
}

func (e ReplayError) Error() string {
	return errReport("%s: error replaying journal. Cont="+strconv.FormatBool(e.Cont), e.Path+": "+e.Msg)
}

func errReport(base string, msg string) string {
	base = io.GetCallerFileContext(2) + ":" + base
	log.Error(base, msg)
	return fmt.Sprintf(base, msg)
}
