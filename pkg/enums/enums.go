package enums

// declaration of various enums for
// user data validation purposes

import (
	"github.com/orsinium-labs/enum"
)

type ModelFormat enum.Member[string]

var (
	mf = enum.NewBuilder[string, ModelFormat]()

	ModelONNX     = mf.Add(ModelFormat{"onnx"})
	ModelOpenVINO = mf.Add(ModelFormat{"openvino"})
	ModelCaffe    = mf.Add(ModelFormat{"caffe"})
	// no network, every frame comes back empty
	ModelSim = mf.Add(ModelFormat{"sim"})

	ModelFormats = mf.Enum()
)

type ModelKind enum.Member[string]

var (
	mk = enum.NewBuilder[string, ModelKind]()

	KindDetection      = mk.Add(ModelKind{"detection"})
	KindClassification = mk.Add(ModelKind{"classification"})

	ModelKinds = mk.Enum()
)

type DeviceType enum.Member[string]

var (
	dt = enum.NewBuilder[string, DeviceType]()

	DeviceCPU = dt.Add(DeviceType{"cpu"})
	DeviceGPU = dt.Add(DeviceType{"gpu"})
	DeviceVPU = dt.Add(DeviceType{"vpu"})

	DeviceTypes = dt.Enum()
)

type InputType enum.Member[string]

var (
	ifl = enum.NewBuilder[string, InputType]()

	InputFile   = ifl.Add(InputType{"file"})
	InputWebcam = ifl.Add(InputType{"webcam"})
	InputIPC    = ifl.Add(InputType{"ipc"})
	// sorted still images from a directory
	InputFolder = ifl.Add(InputType{"folder"})

	InputTypes = ifl.Enum()
)

type TaskType enum.Member[string]

var (
	tt = enum.NewBuilder[string, TaskType]()

	TaskStream = tt.Add(TaskType{"stream"})
	TaskImage  = tt.Add(TaskType{"image"})
	TaskExport = tt.Add(TaskType{"export"})

	TaskTypes = tt.Enum()
)

type MatcherType enum.Member[string]

var (
	mt = enum.NewBuilder[string, MatcherType]()

	MatcherGreedy    = mt.Add(MatcherType{"greedy"})
	MatcherHungarian = mt.Add(MatcherType{"hungarian"})

	MatcherTypes = mt.Enum()
)

type LoggingLevel enum.Member[string]

var (
	ll = enum.NewBuilder[string, LoggingLevel]()

	LoggingLevelDebug = ll.Add(LoggingLevel{"debug"})
	LoggingLevelInfo  = ll.Add(LoggingLevel{"info"})
	LoggingLevelWarn  = ll.Add(LoggingLevel{"warn"})
	LoggingLevelError = ll.Add(LoggingLevel{"error"})

	LoggingLevels = ll.Enum()
)
