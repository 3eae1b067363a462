package vm

import "github.com/tliron/commonlog"

var (
	log       = commonlog.GetLogger("stackjvm.vm")
	loaderLog = commonlog.GetLogger("stackjvm.loader")
)
