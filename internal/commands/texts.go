package commands

const (
	welcomeText    = "Welcome! Choose an option:"
	startButton    = "this bot on service"
	startData      = "enjoy"
	helpButton     = "☕ - on service"
	helpData       = "coffee"
	unknownText    = `Unknown command. ¯\_(ツ)_/¯`
	notedText      = "📝 Noted. I've added that to my memory."
	rememberUsage  = "Please provide text to remember. Usage: /remember Your text here."
	profileUsage   = "Please provide a username. Usage: /profile @username"
	emptyPrompt    = "Please provide a prompt after the command."
	notEnoughInfo  = "I don't have enough info yet."
	userNotFound   = "The user not found."
	noActivityText = "No activity data available."
	storageFailure = "Sorry, something went wrong while reading the chat history. Please try again later."
	monthPrefix    = "It's been a month! "
	markdown       = "Markdown"
)

const helpText = `📋 *Commands:*
/help - Show this help message
/stats - Check out chat activity statistics
/ask [question] - Ask anything to AI.
/summary - Today's bullet point summary
/topic - Get main topics from recent discussions
/profile [@username or Name] - Get what the group knows about the user
/remember [[text]] - Add a short memory to further AI prompts(limited).`
