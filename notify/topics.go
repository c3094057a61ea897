package notify

import "fmt"

func TopicImportProgress(prefix, userID string) string {
	return fmt.Sprintf("%s/users/%s/import/progress", prefix, userID)
}

// TopicImportProgressAll matches every user's progress topic.
func TopicImportProgressAll(prefix string) string {
	return fmt.Sprintf("%s/users/+/import/progress", prefix)
}
