package protocol

// Subject prefix shared by every kodiview message on the bus.
const subjectPrefix = "kodiview."

// SubjectRegistry receives a Registration when an agent connects.
const SubjectRegistry = subjectPrefix + "registry"

// SubjectEvents is where events from source are published.
func SubjectEvents(source string) string {
	return subjectPrefix + "events." + source
}

// SubjectCommands is where commands for agent are published.
func SubjectCommands(agent string) string {
	return subjectPrefix + "commands." + agent
}

// SubjectHeartbeat is where agent publishes its Heartbeat.
func SubjectHeartbeat(agent string) string {
	return subjectPrefix + "heartbeat." + agent
}
