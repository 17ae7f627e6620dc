package agent

import "fmt"

const fallbackAnswer = "I apologize, but I encountered an error while processing your question. Please try again."

const insufficientAnswer = "I don't have enough information in the uploaded documents to answer that question."

func gradePrompt(question, context string) string {
	return fmt.Sprintf(
		"You are a grader assessing relevance of a retrieved document to a user question.\n"+
			"Here is the retrieved document:\n\n%s\n\n"+
			"Here is the user question: %s\n"+
			"If the document contains keyword(s) or semantic meaning related to the user question, grade it as relevant.\n"+
			"Give a binary score 'yes' or 'no' to indicate whether the document is relevant to the question.",
		context, question)
}

func rewritePrompt(question string) string {
	return fmt.Sprintf(
		"Look at the input and try to reason about the underlying semantic intent / meaning.\n"+
			"Here is the initial question:\n"+
			"-------\n"+
			"%s\n"+
			"-------\n"+
			"Formulate an improved question:",
		question)
}

func answerPrompt(question, context string) string {
	return fmt.Sprintf(
		"You are an assistant for question-answering tasks. "+
			"Use the following pieces of retrieved context to answer the question. "+
			"If you don't know the answer, just say that you don't know. "+
			"Use three sentences maximum and keep the answer concise.\n"+
			"Question: %s\n"+
			"Context: %s",
		question, context)
}
