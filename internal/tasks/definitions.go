package tasks

// DefineTasks registers all available tasks
func DefineTasks(r *Registry) {
	r.Register(SendEnrollmentNotificationsTask.TaskID(), SendEnrollmentNotificationsTask.HandleExecution)
	r.Register(EnrollmentSummaryTask.TaskID(), EnrollmentSummaryTask.HandleExecution)
}
