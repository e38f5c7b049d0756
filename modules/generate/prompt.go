package generate

// step1Instruction is the fixed merge instruction for the first gateway call:
// composite the picked character into the user's photo.
const step1Instruction = "[REFERENCE IMAGES MUST BE COMBINED]\n" +
	"You are given two reference images: the first is a photo of a person, " +
	"the second is a collectible character figure.\n" +
	"Place the character from the second image naturally INTO the first photo, " +
	"held by or standing next to the person.\n" +
	"Match the photo's lighting direction, color temperature and depth of field. " +
	"Keep the person's face, pose and clothing exactly as in the original photo.\n" +
	"The result MUST look like ONE photograph taken with ONE camera - " +
	"no cutout or sticker look, no floating objects, no collage layout."

// step2PromptDoll restyles the merged photo around a plush doll.
const step2PromptDoll = "Refine this photo so the collectible plush doll looks like a real, " +
	"soft vinyl-faced doll with visible fabric texture and fur detail. " +
	"The doll must cast a natural contact shadow where it touches the person or surface. " +
	"Preserve the person and the background exactly; only polish the doll's integration, " +
	"lighting and edge blending. Professional photo quality, single unified photograph."

// step2PromptKeychain restyles the merged photo around a keychain charm.
const step2PromptKeychain = "Refine this photo so the character appears as a small keychain charm " +
	"with a visible metal clasp and ring, attached to the person's bag or belt loop. " +
	"Scale it down to realistic keychain size with hard plastic sheen and natural reflections. " +
	"Preserve the person and the background exactly; only polish the keychain's integration " +
	"and lighting. Professional photo quality, single unified photograph."

// Step2Prompt selects the stylistic-edit prompt purely from the overlay
// asset's category, so a reprocessed step 1 always picks the same prompt.
func Step2Prompt(category string) string {
	if category == CategoryKeychain {
		return step2PromptKeychain
	}
	return step2PromptDoll
}
