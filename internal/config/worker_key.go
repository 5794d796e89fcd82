package config

type WorkerKeyStruct struct {
	ActivityTrimQueue string
}

var WorkerKey = &WorkerKeyStruct{
	ActivityTrimQueue: "activity_trim_queue",
}
