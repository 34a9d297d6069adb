package auth

// AppPasswordInstructions explains how to generate an app password,
// shown by the CLI when login fails or no credentials exist
const AppPasswordInstructions = `To use an authenticated session, create an app password:

  1. Open https://bsky.app/settings/app-passwords
  2. Click "Add App Password" and give it a name (e.g. "bskygrab")
  3. Copy the generated password (format: xxxx-xxxx-xxxx-xxxx)
  4. Run: bskygrab auth login

Never use your main account password. App passwords can be revoked
individually without affecting your account.

Without credentials, bskygrab reads public data from api.bsky.app;
likes and some feeds may be unavailable.`
