package chat

import "agribot/backend"

var greetings = map[string]string{
	"en": "Hello! I'm AgriBot, your agricultural assistant. Ask me about crops, soil, pests, weather, mandi prices or government schemes.",
	"hi": "नमस्ते! मैं एग्रीबॉट हूँ, आपका कृषि सहायक। फसल, मिट्टी, कीट, मौसम, मंडी भाव या सरकारी योजनाओं के बारे में पूछें।",
	"bn": "নমস্কার! আমি এগ্রিবট, আপনার কৃষি সহকারী। ফসল, মাটি, পোকামাকড়, আবহাওয়া, মান্ডি দর বা সরকারি প্রকল্প সম্পর্কে জিজ্ঞাসা করুন।",
	"te": "నమస్కారం! నేను అగ్రిబాట్, మీ వ్యవసాయ సహాయకుడిని. పంటలు, నేల, తెగుళ్లు, వాతావరణం, మండి ధరలు లేదా ప్రభుత్వ పథకాల గురించి అడగండి.",
	"mr": "नमस्कार! मी ॲग्रीबॉट, तुमचा कृषी सहाय्यक. पिके, माती, कीड, हवामान, मंडी भाव किंवा सरकारी योजनांबद्दल विचारा.",
	"ta": "வணக்கம்! நான் அக்ரிபாட், உங்கள் வேளாண் உதவியாளர். பயிர்கள், மண், பூச்சிகள், வானிலை, மண்டி விலைகள் அல்லது அரசுத் திட்டங்கள் பற்றி கேளுங்கள்.",
	"gu": "નમસ્તે! હું એગ્રીબોટ છું, તમારો કૃષિ સહાયક. પાક, જમીન, જીવાત, હવામાન, મંડી ભાવ અથવા સરકારી યોજનાઓ વિશે પૂછો.",
	"kn": "ನಮಸ್ಕಾರ! ನಾನು ಅಗ್ರಿಬಾಟ್, ನಿಮ್ಮ ಕೃಷಿ ಸಹಾಯಕ. ಬೆಳೆಗಳು, ಮಣ್ಣು, ಕೀಟಗಳು, ಹವಾಮಾನ, ಮಂಡಿ ದರಗಳು ಅಥವಾ ಸರ್ಕಾರಿ ಯೋಜನೆಗಳ ಬಗ್ಗೆ ಕೇಳಿ.",
	"ml": "നമസ്കാരം! ഞാൻ അഗ്രിബോട്ട്, നിങ്ങളുടെ കാർഷിക സഹായി. വിളകൾ, മണ്ണ്, കീടങ്ങൾ, കാലാവസ്ഥ, മണ്ടി വിലകൾ അല്ലെങ്കിൽ സർക്കാർ പദ്ധതികളെക്കുറിച്ച് ചോദിക്കൂ.",
	"pa": "ਸਤ ਸ੍ਰੀ ਅਕਾਲ! ਮੈਂ ਐਗਰੀਬੋਟ ਹਾਂ, ਤੁਹਾਡਾ ਖੇਤੀ ਸਹਾਇਕ। ਫ਼ਸਲਾਂ, ਮਿੱਟੀ, ਕੀੜਿਆਂ, ਮੌਸਮ, ਮੰਡੀ ਭਾਅ ਜਾਂ ਸਰਕਾਰੀ ਯੋਜਨਾਵਾਂ ਬਾਰੇ ਪੁੱਛੋ।",
}

// SuggestedQuestions are offered while the log holds only the greeting.
var SuggestedQuestions = []string{
	"How do I improve soil fertility naturally?",
	"What's the best time to plant tomatoes?",
	"How can I control aphids organically?",
	"What are signs of nutrient deficiency in plants?",
}

// Greeting returns the opening message for lang, falling back to English.
func Greeting(lang string) string {
	return greetings[greetingLanguage(lang)]
}

// HasGreeting reports whether lang has its own greeting.
func HasGreeting(lang string) bool {
	_, ok := greetings[backend.NormalizeLanguage(lang)]
	return ok
}

func greetingLanguage(lang string) string {
	lang = backend.NormalizeLanguage(lang)
	if _, ok := greetings[lang]; ok {
		return lang
	}
	return backend.DefaultLanguage
}
