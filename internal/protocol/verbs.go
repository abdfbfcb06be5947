package protocol

// Verbs addressed to an engine.
const (
	VerbManage       = "Manage"
	VerbRelease      = "Release"
	VerbPush         = "Push"
	VerbStop         = "Stop"
	VerbExecCommand  = "ExecCommand"
	VerbEvalCommand  = "EvalCommand"
	VerbRegisterTask = "RegisterTask"
	VerbRunTask      = "RunTask"
	VerbAddBuiltin   = "AddBuiltin"
	VerbFutureFlag   = "FutureFlag"
	VerbGetState     = "GetState"
	VerbGetTasks     = "GetTasks"
	VerbShutdown     = "Shutdown"

	VerbDebugToggle   = "Debug.Toggle"
	VerbDebugPause    = "Debug.Pause"
	VerbDebugResume   = "Debug.Resume"
	VerbDebugEnd      = "Debug.End"
	VerbDebugStep     = "Debug.Step"
	VerbDebugStepIn   = "Debug.StepIn"
	VerbDebugStepOut  = "Debug.StepOut"
	VerbDebugSetScope = "Debug.SetScope"
	VerbDebugSetBP    = "Debug.SetBP"
	VerbDebugClearBP  = "Debug.ClearBP"
	VerbDebugEditBP   = "Debug.EditBP"
	VerbDebugListBP   = "Debug.ListBP"

	VerbProfileToggle = "Profile.Toggle"
	VerbProfileStats  = "Profile.Stats"
)

// Published topics.
const (
	TopicStateBusy         = "State.Busy"
	TopicStateDone         = "State.Done"
	TopicStateChange       = "State.Change"
	TopicStateStopped      = "State.Stopped"
	TopicLineProcessed     = "LineProcessed"
	TopicDebugToggled      = "Debug.Toggled"
	TopicDebugPaused       = "Debug.Paused"
	TopicDebugResumed      = "Debug.Resumed"
	TopicDebugScopeChanged = "Debug.ScopeChanged"
	TopicProfileToggled    = "Profile.Toggled"
	TopicEngineExiting     = "Engine.Exiting"
)

// Console messages sent by an engine to its controller.
const (
	ConsolePrompt      = "Prompt"
	ConsolePromptStdIn = "Prompt.StdIn"
	ConsolePromptDebug = "Prompt.Debug"
	ConsoleWriteStdOut = "Write.StdOut"
	ConsoleWriteStdErr = "Write.StdErr"
	ConsoleWriteDebug  = "Write.Debug"
	ConsoleClear       = "Clear"
	ConsoleExecSource  = "ExecSource"
)

// Topics lists every published topic, for subscribers that want them all.
func Topics() []string {
	return []string{
		TopicStateBusy, TopicStateDone, TopicStateChange, TopicStateStopped,
		TopicLineProcessed, TopicDebugToggled, TopicDebugPaused, TopicDebugResumed,
		TopicDebugScopeChanged, TopicProfileToggled, TopicEngineExiting,
	}
}

// Verbs lists every verb an engine answers.
func Verbs() []string {
	return []string{
		VerbManage, VerbRelease, VerbPush, VerbStop, VerbExecCommand, VerbEvalCommand,
		VerbRegisterTask, VerbRunTask, VerbAddBuiltin, VerbFutureFlag, VerbGetState,
		VerbGetTasks, VerbShutdown,
		VerbDebugToggle, VerbDebugPause, VerbDebugResume, VerbDebugEnd, VerbDebugStep,
		VerbDebugStepIn, VerbDebugStepOut, VerbDebugSetScope, VerbDebugSetBP,
		VerbDebugClearBP, VerbDebugEditBP, VerbDebugListBP,
		VerbProfileToggle, VerbProfileStats,
	}
}
